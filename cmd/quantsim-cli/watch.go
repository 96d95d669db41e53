package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"quantsim/internal/domain"
)

const watchInterval = time.Second

type jobMsg struct {
	job *domain.SimulationJob
	err error
}

type tickMsg time.Time

// watchModel follows one job with a progress bar. Pressing c requests
// cancellation; q detaches without touching the job.
type watchModel struct {
	ctx        context.Context
	api        jobAPI
	id         string
	bar        progress.Model
	job        *domain.SimulationJob
	err        error
	cancelling bool
	started    time.Time
}

func newWatchModel(ctx context.Context, api jobAPI, id string) watchModel {
	return watchModel{
		ctx:     ctx,
		api:     api,
		id:      id,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		started: time.Now(),
	}
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		job, err := m.api.Get(m.ctx, m.id)
		return jobMsg{job: job, err: err}
	}
}

func (m watchModel) cancel() tea.Cmd {
	return func() tea.Msg {
		job, err := m.api.Cancel(m.ctx, m.id)
		return jobMsg{job: job, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return m.fetch()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "c":
			if !m.cancelling && (m.job == nil || !m.job.Status.Terminal()) {
				m.cancelling = true
				return m, m.cancel()
			}
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-20, 10), 80)
	case tickMsg:
		return m, m.fetch()
	case jobMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.job = msg.job
		if m.job.Status.Terminal() {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

// fraction returns completed/total in [0, 1].
func fraction(j *domain.SimulationJob) float64 {
	if j == nil || j.TotalSteps <= 0 {
		return 0
	}
	if j.Status == domain.JobCompleted {
		return 1
	}
	return min(float64(j.CompletedSteps)/float64(j.TotalSteps), 1)
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("job "+m.id) + "\n\n")
	b.WriteString("  " + m.bar.ViewAs(fraction(m.job)) + "\n\n")
	if m.job != nil {
		fmt.Fprintf(&b, "  %s  %s  %s\n", renderStatus(m.job.Status),
			labelStyle.Render(fmt.Sprintf("%d/%d steps", m.job.CompletedSteps, m.job.TotalSteps)),
			labelStyle.Render(time.Since(m.started).Round(time.Second).String()))
		if m.job.Error != "" {
			b.WriteString("  " + lossStyle.Render(m.job.Error) + "\n")
		}
	} else {
		b.WriteString(labelStyle.Render("  waiting for status...") + "\n")
	}
	if m.cancelling && (m.job == nil || !m.job.Status.Terminal()) {
		b.WriteString(labelStyle.Render("  cancellation requested") + "\n")
	}
	b.WriteString("\n" + labelStyle.Render("  c cancel job · q quit") + "\n")
	return b.String()
}

// watch runs the progress UI until the job is terminal or the user quits.
func watch(ctx context.Context, api jobAPI, id string) error {
	final, err := tea.NewProgram(newWatchModel(ctx, api, id)).Run()
	if err != nil {
		return err
	}
	m := final.(watchModel)
	if m.err != nil {
		return m.err
	}
	if m.job != nil && m.job.Status == domain.JobFailed {
		return fmt.Errorf("job %s failed: %s", m.id, m.job.Error)
	}
	return nil
}
