package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/moveops-platform/apps/migrator/internal/migration"
	"github.com/moveops-platform/apps/migrator/internal/presets"
	"github.com/moveops-platform/apps/migrator/internal/store"
)

type submitOptions struct {
	Entity      string
	Source      string
	Strategy    string
	MappingPath string
	Preset      string
}

func (o *submitOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.Entity, "entity", "", "contact, client or order (taken from the preset when omitted)")
	flags.StringVar(&o.Source, "source", "", "source system recorded on imported rows")
	flags.StringVar(&o.Strategy, "strategy", string(store.StrategySkip), "duplicate strategy: skip, update or create")
	flags.StringVar(&o.MappingPath, "mapping", "", "YAML or JSON file with the column mapping")
	flags.StringVar(&o.Preset, "preset", "", "built-in preset id (see `importctl presets`)")
}

// request reads the file and resolves the mapping the same way the HTTP API
// does.
func (o *submitOptions) request(path string) (migration.SubmitRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return migration.SubmitRequest{}, withCode(exitUsage, fmt.Errorf("read %s: %w", path, err))
	}
	req := migration.SubmitRequest{
		FileName: filepath.Base(path),
		Content:  content,
		Entity:   store.Entity(o.Entity),
		Source:   o.Source,
		Strategy: store.Strategy(o.Strategy),
	}
	if o.MappingPath != "" {
		mapping, err := loadMapping(o.MappingPath)
		if err != nil {
			return migration.SubmitRequest{}, err
		}
		req.Mapping = mapping
	}
	if len(req.Mapping) == 0 || o.Preset != "" {
		if _, err := presets.Apply(&req, o.Preset); err != nil {
			return migration.SubmitRequest{}, classify(err)
		}
	}
	return req, nil
}

func loadMapping(path string) ([]migration.Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("read mapping: %w", err))
	}
	var doc struct {
		Mapping  []migration.Mapping `yaml:"mapping"`
		Mappings []migration.Mapping `yaml:"mappings"`
	}
	var list []migration.Mapping
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("decode mapping %s: %w", path, err))
	}
	if len(doc.Mapping) > 0 {
		return doc.Mapping, nil
	}
	return doc.Mappings, nil
}

func newRunCmd(global *globalOptions) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Import a CSV or XLSX file and wait for the job to finish",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer sess.Close()

			req.OwnerID = sess.owner
			res, err := sess.rt.Controller.Submit(cmd.Context(), req)
			if err != nil {
				return classify(err)
			}
			sess.rt.Controller.Wait()

			// The run context may already be cancelled by a signal.
			job, err := sess.rt.Controller.GetJob(context.WithoutCancel(cmd.Context()), sess.owner, res.JobID)
			if err != nil {
				return classify(err)
			}
			if err := writeJSON(cmd.OutOrStdout(), runOutput{Reused: res.Reused, Job: newJobView(job)}); err != nil {
				return err
			}
			if job.Status == store.StatusFailed {
				return withCode(exitFailed, fmt.Errorf("job %s failed: %s", job.ID, job.ErrorMessage))
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

func newDryRunCmd(global *globalOptions) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "dry-run <file>",
		Short: "Check a file against the mapping and existing records without writing",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer sess.Close()

			req.OwnerID = sess.owner
			res, err := sess.rt.Controller.DryRun(cmd.Context(), req)
			if err != nil {
				return classify(err)
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.ErrorCount > 0 {
				return withCode(exitValidation, fmt.Errorf("%d of %d rows have errors", res.ErrorCount, res.Total))
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

type runOutput struct {
	Reused bool    `json:"reused"`
	Job    jobView `json:"job"`
}

type jobView struct {
	ID           string       `json:"id"`
	Status       store.Status `json:"status"`
	Entity       store.Entity `json:"entity"`
	Source       string       `json:"source"`
	FileName     string       `json:"fileName"`
	Totals       store.Totals `json:"totals"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
}

func newJobView(job store.Job) jobView {
	return jobView{
		ID:           job.ID.String(),
		Status:       job.Status,
		Entity:       job.Entity,
		Source:       job.Source,
		FileName:     job.FileName,
		Totals:       job.Totals,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC(),
		FinishedAt:   job.FinishedAt,
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return withCode(exitUsage, err)
		}
		return nil
	}
}
