/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/carverauto/edgefleet/pkg/models"
)

const (
	envControllerURL     = "EDGEFLEET_CONTROLLER"
	envAPIKey            = "EDGEFLEET_API_KEY"
	defaultWatchInterval = 2 * time.Second
)

var (
	errInvalidWorkerIDArg = errors.New("worker id must be an integer between 0 and 254")
	errInvalidCommandData = errors.New("--data must be a JSON object")
)

// options are the persistent flags shared by every subcommand.
type options struct {
	controllerURL string
	apiKey        string
	output        string
	skipVerify    bool
}

type runner struct {
	opts   options
	client *Client
	styles styles
}

// NewRootCommand builds the fleetctl command tree.
func NewRootCommand() *cobra.Command {
	r := &runner{styles: newStyles()}

	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate an edgefleet controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if r.opts.controllerURL == "" {
				r.opts.controllerURL = os.Getenv(envControllerURL)
			}

			if r.opts.apiKey == "" {
				r.opts.apiKey = os.Getenv(envAPIKey)
			}

			format, err := normalizeOutputFormat(r.opts.output)
			if err != nil {
				return err
			}

			r.opts.output = format
			r.client = NewClient(r.opts.controllerURL, r.opts.apiKey, r.opts.skipVerify)

			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&r.opts.controllerURL, "controller", "",
		fmt.Sprintf("Controller base URL (env %s, default %s)", envControllerURL, defaultControllerURL))
	flags.StringVar(&r.opts.apiKey, "api-key", "", fmt.Sprintf("Controller API key (env %s)", envAPIKey))
	flags.StringVarP(&r.opts.output, "output", "o", outputFormatTable, "Output format: table or json")
	flags.BoolVar(&r.opts.skipVerify, "tls-skip-verify", false, "Skip TLS verification for https controllers")

	root.AddCommand(
		r.statusCmd(),
		r.workersCmd(),
		r.workerCmd(),
		r.pendingCmd(),
		r.promoteCmd(),
		r.commandCmd(),
		r.disconnectCmd(),
		r.reconnectCmd(),
		r.watchCmd(),
	)

	return root
}

func (r *runner) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fleet counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := r.client.Status(cmd.Context())
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), counts)
			}

			printStatus(cmd.OutOrStdout(), r.styles, counts)

			return nil
		},
	}
}

func (r *runner) workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "workers",
		Aliases: []string{"ls"},
		Short:   "List registered workers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			views, err := r.client.Workers(cmd.Context())
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}

			printWorkerTable(cmd.OutOrStdout(), r.styles, views, time.Now())

			return nil
		},
	}
}

func (r *runner) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker <id>",
		Short: "Show one registered worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWorkerID(args[0])
			if err != nil {
				return err
			}

			view, err := r.client.Worker(cmd.Context(), id)
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}

			printRegistration(cmd.OutOrStdout(), r.styles, &view.Registration)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Channel    : %s\n", view.Connection)

			return nil
		},
	}
}

func (r *runner) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List workers waiting for promotion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pending, err := r.client.Pending(cmd.Context())
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), pending)
			}

			printPendingTable(cmd.OutOrStdout(), pending, time.Now())

			return nil
		},
	}
}

func (r *runner) promoteCmd() *cobra.Command {
	var explicitID int

	cmd := &cobra.Command{
		Use:   "promote <serial>",
		Short: "Register a pending worker and open its command channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id *int
			if cmd.Flags().Changed("id") {
				id = &explicitID
			}

			reg, err := r.client.Promote(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), reg)
			}

			printRegistration(cmd.OutOrStdout(), r.styles, &reg)

			return nil
		},
	}

	cmd.Flags().IntVar(&explicitID, "id", 0, "Assign this worker id instead of the next free one")

	return cmd
}

func (r *runner) commandCmd() *cobra.Command {
	var (
		ssid     string
		password string
		rawData  string
	)

	cmd := &cobra.Command{
		Use:   "command <id> <switch_to_ethernet|switch_to_wifi|update_worker_id>",
		Short: "Push a command to a worker",
		Long: `Push a command to a worker over its command channel.

switch_to_wifi without --ssid uses the network configured on the controller.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWorkerID(args[0])
			if err != nil {
				return err
			}

			data, err := commandData(args[1], ssid, password, rawData)
			if err != nil {
				return err
			}

			result, err := r.client.Command(cmd.Context(), id, args[1], data)
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}

			if !result.Success {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(),
					r.styles.errorText.Render(fmt.Sprintf("%s was not delivered to worker %d", result.Command, id)))

				return nil
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s sent to worker %d\n", result.Command, id)

			return nil
		},
	}

	cmd.Flags().StringVar(&ssid, "ssid", "", "Wifi network for switch_to_wifi")
	cmd.Flags().StringVar(&password, "password", "", "Wifi password for switch_to_wifi")
	cmd.Flags().StringVar(&rawData, "data", "", "Raw JSON payload, overrides --ssid and --password")

	return cmd
}

func (r *runner) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <id>",
		Short: "Close a worker's command channel without retry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWorkerID(args[0])
			if err != nil {
				return err
			}

			view, err := r.client.Disconnect(cmd.Context(), id)
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Worker %d is %s\n", id, r.styles.status(view.Status))

			return nil
		},
	}
}

func (r *runner) reconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconnect <id>",
		Short: "Start the bounded reconnect procedure for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWorkerID(args[0])
			if err != nil {
				return err
			}

			armed, err := r.client.Reconnect(cmd.Context(), id)
			if err != nil {
				return err
			}

			if r.opts.output == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"workerId": id, "armed": armed})
			}

			if armed {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reconnecting worker %d\n", id)
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Worker %d is already connected or retrying\n", id)
			}

			return nil
		},
	}
}

func (r *runner) watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of the registered fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				interval = defaultWatchInterval
			}

			p := tea.NewProgram(newWatchModel(r.client, interval),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)

			_, err := p.Run()

			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "Refresh interval")

	return cmd
}

func parseWorkerID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 || id > models.MaxWorkerID {
		return 0, fmt.Errorf("%w: %q", errInvalidWorkerIDArg, raw)
	}

	return id, nil
}

func commandData(command, ssid, password, raw string) (interface{}, error) {
	if raw != "" {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidCommandData, err)
		}

		return obj, nil
	}

	if command == models.CommandSwitchToWifi && ssid != "" {
		return models.WifiCredentials{SSID: ssid, Password: password}, nil
	}

	return nil, nil
}
