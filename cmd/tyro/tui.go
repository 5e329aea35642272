package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tyrochess/tyro/nn"
	"github.com/tyrochess/tyro/replay"
	"github.com/tyrochess/tyro/selfplay"
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type tuiModel struct {
	engine  *selfplay.Engine
	network *nn.Network
	buffer  *replay.Buffer

	startTime  time.Time
	lastGames  int64
	lastCount  int64
	gamesRate  float64
	tuplesRate float64

	stop func()
}

func (m tuiModel) Init() tea.Cmd {
	return tickCmd()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.stop()
			return m, tea.Quit
		}
	case tickMsg:
		games := m.engine.GamesPlayed()
		count := m.buffer.Count()
		m.gamesRate = float64(games - m.lastGames)
		m.tuplesRate = float64(count - m.lastCount)
		m.lastGames = games
		m.lastCount = count
		return m, tickCmd()
	}
	return m, nil
}

func (m tuiModel) View() string {
	count := m.buffer.Count()
	capacity := int64(m.buffer.Size())
	fill := count
	if fill > capacity {
		fill = capacity
	}

	s := fmt.Sprintf("tyro — %s\n\n", m.engine.Status())
	s += fmt.Sprintf("Generation:   %d\n", m.network.Generation())
	s += fmt.Sprintf("Games Played: %d (%.1f/s)\n", m.engine.GamesPlayed(), m.gamesRate)
	s += fmt.Sprintf("Buffer:       %d/%d (%.1f tuples/s, %d total)\n", fill, capacity, m.tuplesRate, count)
	s += fmt.Sprintf("Partials:     %v\n", m.engine.Partials())
	s += fmt.Sprintf("Uptime:       %s\n", time.Since(m.startTime).Round(time.Second))
	s += "\nPress q to quit.\n"
	return s
}

// runTUI drives the dashboard until quit or context cancellation.
func runTUI(ctx context.Context, engine *selfplay.Engine, network *nn.Network, buffer *replay.Buffer, stop func()) error {
	p := tea.NewProgram(tuiModel{
		engine:    engine,
		network:   network,
		buffer:    buffer,
		startTime: time.Now(),
		stop:      stop,
	}, tea.WithAltScreen(), tea.WithContext(ctx))

	_, err := p.Run()
	if err == tea.ErrProgramKilled {
		return nil
	}
	return err
}
