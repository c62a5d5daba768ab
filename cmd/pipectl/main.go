// Command pipectl operates the article pipeline API from the terminal.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var apiBase string

func main() {
	root := &cobra.Command{
		Use:           "pipectl",
		Short:         "Operate the article pipeline queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", "http://localhost:8080", "API base URL")

	root.AddCommand(
		buildEnqueueCommand(),
		buildGetCommand(),
		buildListCommand(),
		buildRequeueCommand(),
		buildCancelCommand(),
		buildPublishCommand(),
		buildAuditCommand(),
		buildStatsCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildEnqueueCommand() *cobra.Command {
	var configID string
	var keyword string
	var audience string
	var style string
	var scheduled string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a new article job",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"configuration_id": configID,
				"seed_keyword":     keyword,
			}
			if audience != "" {
				body["target_audience"] = audience
			}
			if style != "" {
				body["writing_style"] = style
			}
			if scheduled != "" {
				when, err := time.Parse(time.RFC3339, scheduled)
				if err != nil {
					return fmt.Errorf("parse --scheduled: %w", err)
				}
				body["scheduled_date"] = when
			}
			if idempotencyKey != "" {
				body["idempotency_key"] = idempotencyKey
			}
			return call(func(c *resty.Client) (*resty.Response, error) {
				return c.R().SetBody(body).Post("/jobs")
			})
		},
	}

	cmd.Flags().StringVar(&configID, "config", "", "configuration id (required)")
	cmd.Flags().StringVar(&keyword, "keyword", "", "seed keyword (required)")
	cmd.Flags().StringVar(&audience, "audience", "", "target audience override")
	cmd.Flags().StringVar(&style, "style", "", "writing style override")
	cmd.Flags().StringVar(&scheduled, "scheduled", "", "publication date, RFC3339")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "dedupe key for retried submissions")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("keyword")
	return cmd
}

func buildGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(c *resty.Client) (*resty.Response, error) {
				return c.R().Get("/jobs/" + args[0])
			})
		},
	}
}

func buildListCommand() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(c *resty.Client) (*resty.Response, error) {
				req := c.R()
				if status != "" {
					req.SetQueryParam("status", status)
				}
				if limit > 0 {
					req.SetQueryParam("limit", fmt.Sprint(limit))
				}
				return req.Get("/jobs")
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum jobs returned")
	return cmd
}

func buildRequeueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Move a failed job back to queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(c *resty.Client) (*resty.Response, error) {
				return c.R().Post("/jobs/" + args[0] + "/requeue")
			})
		},
	}
}

func buildCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Delete a queued or failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(c *resty.Client) (*resty.Response, error) {
				return c.R().Delete("/jobs/" + args[0])
			})
		},
	}
}

func buildPublishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <job-id>",
		Short: "Mark a completed job published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(c *resty.Client) (*resty.Response, error) {
				return c.R().Post("/jobs/" + args[0] + "/publish")
			})
		},
	}
}

func buildAuditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <job-id>",
		Short: "Show a job's audit trails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(c *resty.Client) (*resty.Response, error) {
				return c.R().Get("/jobs/" + args[0] + "/audit")
			})
		},
	}
}

func buildStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(func(c *resty.Client) (*resty.Response, error) {
				return c.R().Get("/stats")
			})
		},
	}
}

// call runs one request against the API and pretty-prints the JSON reply.
func call(exec func(c *resty.Client) (*resty.Response, error)) error {
	client := resty.New().SetBaseURL(apiBase).SetTimeout(30 * time.Second)
	resp, err := exec(client)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), bytes.TrimSpace(resp.Body()))
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp.Body(), "", "  "); err != nil {
		fmt.Println(string(resp.Body()))
		return nil
	}
	fmt.Println(out.String())
	return nil
}
