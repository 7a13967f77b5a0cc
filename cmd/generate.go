package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"pomelo/internal/pkg/remotejob"
)

var (
	generatePrompt string
	generateOut    string
)

var generateCmd = &cobra.Command{
	Use:   "generate <workflow.json>",
	Short: "Submit a workflow to the remote generation service",
	Long: `Submit a generation workflow to the remote service, poll until the
job finishes and download the produced file. Transient network errors
are retried; a job reported as failed by the service is not.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	flags := generateCmd.Flags()
	flags.StringVar(&generatePrompt, "prompt", "", "replace the positive prompt text in the workflow")
	flags.StringVarP(&generateOut, "out", "o", "", "output file path (default: the remote filename)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	workflow, err := remotejob.LoadWorkflow(args[0])
	if err != nil {
		return err
	}
	if generatePrompt != "" {
		workflow = remotejob.SetPrompt(workflow, generatePrompt)
	}

	ctx := context.Background()
	client := remotejob.NewClient(cfg.Remote)

	jobID, err := client.Submit(ctx, workflow)
	if err != nil {
		return err
	}
	out, err := client.Poll(ctx, jobID)
	if err != nil {
		return err
	}

	dest := generateOut
	if dest == "" {
		dest = out.Filename
	}
	return client.Download(ctx, out, dest)
}
