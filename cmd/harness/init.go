package main

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/harness/internal/orchestrator"
	"github.com/fyrsmithlabs/harness/internal/spec"
	"github.com/spf13/cobra"
)

// initSpec is the app spec file to generate features from
var initSpec string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initSpec, "spec", "s", "", "app spec file (YAML or JSON)")
	_ = initCmd.MarkFlagRequired("spec")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the feature list for a project from an app spec",
	Long: `Generate the dependency-ordered feature list for the project from an app
spec and write it to .harness/feature_list.json, together with an initial
progress report.

An existing feature list is never overwritten.

Examples:
  harness init --spec app.yaml
  harness init --project ./todo --spec todo.yaml`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	s, err := spec.Load(initSpec)
	if err != nil {
		return err
	}

	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	o, err := orchestrator.New(rt.cfg, rt.store, orchestrator.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	if err := o.Initialize(cmd.Context(), s); err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyInitialized) {
			return fmt.Errorf("%s already has a feature list", rt.dir)
		}
		return err
	}

	list, err := rt.store.LoadFeatureList()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("harness · "+s.Name))
	fmt.Fprintf(out, "Generated %d features in %s\n", list.TotalFeatures, rt.store.Dir())
	for _, f := range list.Features {
		fmt.Fprintf(out, "  %s %s\n", dimStyle.Render(fmt.Sprintf("#%-3d %-8s", f.ID, f.Priority)), f.Name)
	}
	return nil
}
