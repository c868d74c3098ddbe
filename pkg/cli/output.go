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
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

var errInvalidOutputFormat = errors.New("output must be 'table' or 'json'")

type styles struct {
	title, help, active, reconnecting, inactive, registered, errorText lipgloss.Style
}

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPurple)).
			Bold(true),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		active: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		reconnecting: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaOrange)),
		inactive: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)),
		registered: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaCyan)),
		errorText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
	}
}

// status colours a worker status. Colour is dropped automatically when the
// output is not a terminal.
func (s styles) status(st models.WorkerStatus) string {
	switch st {
	case models.WorkerStatusActive:
		return s.active.Render(string(st))
	case models.WorkerStatusReconnecting:
		return s.reconnecting.Render(string(st))
	case models.WorkerStatusInactive:
		return s.inactive.Render(string(st))
	case models.WorkerStatusRegistered:
		return s.registered.Render(string(st))
	default:
		return string(st)
	}
}

func normalizeOutputFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", outputFormatTable:
		return outputFormatTable, nil
	case outputFormatJSON:
		return outputFormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", errInvalidOutputFormat, raw)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}

func printWorkerTable(w io.Writer, st styles, views []models.WorkerView, now time.Time) {
	if len(views) == 0 {
		_, _ = fmt.Fprintln(w, "No registered workers.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSERIAL\tSTATUS\tCHANNEL\tPLANE\tCONTROL\tDATA\tLAST SEEN")

	for i := range views {
		v := &views[i]
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.WorkerID,
			v.DisplayIdentifier,
			v.Serial,
			st.status(v.Status),
			v.Connection,
			v.ActivePlane,
			v.ControlAddress,
			v.DataAddress,
			formatAge(now, v.LastSeenAt),
		)
	}

	_ = tw.Flush()
}

func printPendingTable(w io.Writer, pending []models.PendingEntry, now time.Time) {
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(w, "No pending workers.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SERIAL\tNAME\tCONTROL\tPLANE\tDATA REACHABLE\tLAST SEEN")

	for i := range pending {
		hb := &pending[i].Heartbeat
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			hb.Serial,
			hb.DisplayIdentifier,
			hb.ControlAddress,
			hb.ActivePlane,
			hb.DataPlaneReachable,
			formatAge(now, pending[i].LastSeenAt),
		)
	}

	_ = tw.Flush()
}

func printStatus(w io.Writer, st styles, counts registry.Counts) {
	_, _ = fmt.Fprintf(w, "Pending    : %d\n", counts.Pending)
	_, _ = fmt.Fprintf(w, "Registered : %d\n", counts.Registered)

	statuses := make([]string, 0, len(counts.ByStatus))
	for s := range counts.ByStatus {
		statuses = append(statuses, string(s))
	}

	sort.Strings(statuses)

	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "  %-13s %d\n", st.status(models.WorkerStatus(s)), counts.ByStatus[models.WorkerStatus(s)])
	}
}

func printRegistration(w io.Writer, st styles, reg *models.Registration) {
	_, _ = fmt.Fprintf(w, "Worker ID  : %d\n", reg.WorkerID)
	_, _ = fmt.Fprintf(w, "Name       : %s\n", reg.DisplayIdentifier)
	_, _ = fmt.Fprintf(w, "Serial     : %s\n", reg.Serial)
	_, _ = fmt.Fprintf(w, "Status     : %s\n", st.status(reg.Status))
	_, _ = fmt.Fprintf(w, "Plane      : %s\n", reg.ActivePlane)
	_, _ = fmt.Fprintf(w, "Control    : %s\n", reg.ControlAddress)
	_, _ = fmt.Fprintf(w, "Data       : %s\n", reg.DataAddress)
}

func formatAge(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	age := now.Sub(t)
	if age < 0 {
		age = 0
	}

	return age.Truncate(time.Second).String() + " ago"
}
