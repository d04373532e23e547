package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scrypster/engram/internal/backup"
)

// backupService builds the snapshot service for the configured database.
func (o *rootOptions) backupService(cmd *cobra.Command) (*backup.Service, error) {
	cfg, logger, err := o.setup(cmd)
	if err != nil {
		return nil, err
	}
	bc := cfg.BackupConfig()
	bc.Logger = logger
	return backup.NewService(bc)
}

func newBackupCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the memory database now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := o.backupService(cmd)
			if err != nil {
				return err
			}
			result, err := svc.BackupNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s (%d bytes)\n", result.Path, result.Size)
			for _, p := range result.Pruned {
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", filepath.Base(p))
			}
			return nil
		},
	}
	cmd.AddCommand(newBackupListCmd(o), newBackupRestoreCmd(o))
	return cmd
}

func newBackupListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := o.backupService(cmd)
			if err != nil {
				return err
			}
			backups, err := svc.List()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no backups")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tTAKEN\tSIZE")
			for _, b := range backups {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", filepath.Base(b.Path), b.Timestamp.Local().Format("2006-01-02 15:04:05"), b.Size)
			}
			return tw.Flush()
		},
	}
}

func newBackupRestoreCmd(o *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the database with a snapshot",
		Long: "Replace the database with a snapshot. A bare file name is looked up in the\n" +
			"backup directory. Stop any running engram server first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("restore overwrites the current database; pass --yes to confirm")
			}
			cfg, _, err := o.setup(cmd)
			if err != nil {
				return err
			}
			svc, err := o.backupService(cmd)
			if err != nil {
				return err
			}
			path := args[0]
			if filepath.Base(path) == path {
				path = filepath.Join(cfg.BackupConfig().Dir, path)
			}
			if err := svc.Restore(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", filepath.Base(path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the restore")
	return cmd
}
