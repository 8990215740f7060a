/*
Package cli provides command-line helpers shared by the relay commands.

Output Formatting:

Commands render their results as an aligned text table, JSON or CSV:

	format, err := cli.ParseFormat(outputFlag)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, result)

Results that implement Table render as rows in text and CSV output.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

SIGHUP is delivered separately by ReloadSignals and triggers a reload of the
global configuration file.
*/
package cli
