package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/srcscan/srcscan/pkg/config"
	"github.com/srcscan/srcscan/pkg/project"
	"github.com/srcscan/srcscan/pkg/scanner/askalono"
	"github.com/srcscan/srcscan/pkg/scanner/filecount"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a srcscan project",
		Long:  "Creates a srcscan.toml in the current directory and adds the storage directory to .gitignore.",
		RunE:  runInit,
		// init does not need config resolution; skip the root PersistentPreRunE.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.Flags().BoolP("yes", "y", false, "accept defaults without prompting")
	return cmd
}

// initAnswers are the choices offered by the init form.
type initAnswers struct {
	scanners    []string
	parallelism string
	allowMoving bool
}

func runInit(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	if project.IsInitialized(wd) {
		return fmt.Errorf("%s already exists", config.FileName)
	}

	answers := initAnswers{
		scanners:    []string{filecount.Name},
		parallelism: strconv.Itoa(config.DefaultParallelism),
	}
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}
	if !yes {
		if err := promptInit(&answers); err != nil {
			return err
		}
	}

	parallelism, err := strconv.Atoi(answers.parallelism)
	if err != nil {
		return fmt.Errorf("parallelism: %w", err)
	}
	if err := project.Init(wd, config.Starter(answers.scanners, parallelism, answers.allowMoving)); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "Created %s", config.FileName)

	added, err := project.EnsureGitignore(wd, project.GitignoreEntries)
	if err != nil {
		return err
	}
	for _, entry := range added {
		printDetail(out, "Added %s to .gitignore", entry)
	}
	return nil
}

// promptInit asks for the scanners to enable and the download settings.
func promptInit(a *initAnswers) error {
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Which scanners should run?").
				Options(
					huh.NewOption("File counter (built in)", filecount.Name).Selected(true),
					huh.NewOption("askalono license detection", askalono.Name),
				).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("select at least one scanner")
					}
					return nil
				}).
				Value(&a.scanners),
			huh.NewInput().
				Title("How many packages should be processed in parallel?").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("enter a positive number")
					}
					return nil
				}).
				Value(&a.parallelism),
			huh.NewConfirm().
				Title("Allow checking out branches and other moving revisions?").
				Value(&a.allowMoving),
		),
	).Run()
	if err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}
