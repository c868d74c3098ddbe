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
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/carverauto/edgefleet/pkg/models"
)

const watchTableHeight = 15

type rosterMsg struct {
	views   []models.WorkerView
	pending int
	at      time.Time
	err     error
}

type tickMsg time.Time

// watchModel polls the controller and renders the roster until q.
type watchModel struct {
	client   *Client
	interval time.Duration
	table    table.Model
	styles   styles
	frame    lipgloss.Style
	pending  int
	updated  time.Time
	err      error
}

func newWatchModel(client *Client, interval time.Duration) *watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 4},
			{Title: "NAME", Width: 20},
			{Title: "STATUS", Width: 13},
			{Title: "CHANNEL", Width: 13},
			{Title: "PLANE", Width: 9},
			{Title: "CONTROL", Width: 15},
			{Title: "LAST SEEN", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(watchTableHeight),
	)

	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color(draculaComment)).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color(draculaYellow)).
		Bold(false)
	t.SetStyles(ts)

	return &watchModel{
		client:   client,
		interval: interval,
		table:    t,
		styles:   newStyles(),
		frame: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaPurple)).
			Foreground(lipgloss.Color(draculaForeground)),
	}
}

func (m *watchModel) Init() tea.Cmd {
	return m.fetch
}

func (m *watchModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), defaultClientTimeout)
	defer cancel()

	views, err := m.client.Workers(ctx)
	if err != nil {
		return rosterMsg{err: err, at: time.Now()}
	}

	pending, err := m.client.Pending(ctx)

	return rosterMsg{views: views, pending: len(pending), err: err, at: time.Now()}
}

func (m *watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case tickMsg:
		return m, m.fetch
	case rosterMsg:
		m.err = msg.err
		m.updated = msg.at

		if msg.err == nil {
			m.pending = msg.pending
			m.table.SetRows(rosterRows(msg.views, msg.at))
		}

		return m, m.tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m *watchModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render(fmt.Sprintf("edgefleet @ %s", m.client.BaseURL())))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(m.styles.errorText.Render(m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.help.Render(fmt.Sprintf(
		"%d pending | updated %s | r refresh | q quit", m.pending, m.updated.Format(time.TimeOnly))))

	return m.frame.Render(b.String())
}

func rosterRows(views []models.WorkerView, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(views))

	for i := range views {
		v := &views[i]
		rows = append(rows, table.Row{
			strconv.Itoa(v.WorkerID),
			v.DisplayIdentifier,
			string(v.Status),
			string(v.Connection),
			string(v.ActivePlane),
			v.ControlAddress,
			formatAge(now, v.LastSeenAt),
		})
	}

	return rows
}
