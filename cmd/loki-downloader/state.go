// Path: cmd/loki-downloader/state.go
package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"loki-downloader/internal/domain"
	"loki-downloader/internal/storage"
)

// stateReport is what `state` prints.
type stateReport struct {
	Fingerprint string        `json:"fingerprint"`
	Backend     string        `json:"backend"`
	OutputDir   string        `json:"outputDir"`
	State       *domain.State `json:"state"`
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the fingerprint and saved progress for the given flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			localFS := storage.NewLocalFS()
			cfg, err := loadConfig(cmd, localFS)
			if err != nil {
				return err
			}

			states, closeStates, err := openStateStore(cmd.Context(), cfg, localFS)
			if err != nil {
				return err
			}
			defer closeStates()

			handle := states.Open(cfg.FingerprintInputs()...)
			st, err := handle.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load state: %w", err)
			}

			out, err := json.MarshalIndent(stateReport{
				Fingerprint: handle.Key(),
				Backend:     cfg.State.Backend,
				OutputDir:   cfg.OutputDir(),
				State:       st,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
