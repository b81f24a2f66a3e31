package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gwillem/haptic/pkg/rig"
)

type JogCommand struct {
	Simulate bool `long:"simulate" description:"Jog a simulated transport, no hardware needed"`
}

// jogRelease is how long after the last jog key the transport is stopped.
// Terminals report no key-up events, so a held key is seen as a stream of
// repeats and the gap after the last one counts as the release. It must be
// longer than the usual key-repeat delay.
const jogRelease = 600 * time.Millisecond

var jogKeys = map[string]rig.JogDirection{
	"w":     rig.JogUp,
	"up":    rig.JogUp,
	"s":     rig.JogDown,
	"down":  rig.JogDown,
	"a":     rig.JogLeft,
	"left":  rig.JogLeft,
	"d":     rig.JogRight,
	"right": rig.JogRight,
	" ":     rig.JogStop,
}

type jogModel struct {
	client   *rig.Client
	calib    rig.Calibration
	position rig.PhysicalPoint
	havePos  bool
	last     rig.JogDirection
	lastJog  time.Time
	moving   bool
	message  string
	quitting bool
}

type pollMsg time.Time

func pollTick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

func (m jogModel) Init() tea.Cmd {
	return pollTick()
}

func (m jogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "esc", "ctrl+c":
			m.client.SendJog(rig.JogStop)
			m.quitting = true
			return m, tea.Quit
		case "h":
			if err := m.client.SendHome(); err != nil {
				m.message = err.Error()
			} else {
				m.message = "Homing"
			}
			return m, nil
		}
		if dir, ok := jogKeys[key]; ok {
			if err := m.client.SendJog(dir); err != nil {
				m.message = err.Error()
			} else {
				m.last = dir
				m.lastJog = time.Now()
				m.moving = dir != rig.JogStop
				m.message = ""
			}
		}

	case pollMsg:
		if m.moving && time.Time(msg).Sub(m.lastJog) >= jogRelease {
			m.moving = false
			if err := m.client.SendJog(rig.JogStop); err != nil {
				m.message = err.Error()
			} else {
				m.last = rig.JogStop
			}
		}
		for {
			resp, ok := m.client.PollResponse()
			if !ok {
				break
			}
			switch resp.Kind {
			case rig.Position:
				m.position = resp.Position
				m.havePos = true
			case rig.Other:
				m.message = resp.Text
			}
		}
		if !m.client.IsOpen() {
			m.message = fmt.Sprintf("link closed: %v", m.client.Link().Err())
			return m, nil
		}
		return m, pollTick()
	}

	return m, nil
}

func (m jogModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Haptic Jog"))
	sb.WriteString("\n\n")

	if m.havePos {
		logical := m.calib.ToLogical(m.position)
		sb.WriteString(fmt.Sprintf("Physical: %s\n", m.position))
		sb.WriteString(fmt.Sprintf("Logical:  (%.1f, %.1f) mm\n", logical.X, logical.Y))
	} else {
		sb.WriteString(dimStyle.Render("Waiting for position telemetry..."))
		sb.WriteString("\n\n")
	}
	sb.WriteString("\n")

	if m.last != "" {
		sb.WriteString(fmt.Sprintf("Last command: %s\n", jogName(m.last)))
	}
	if m.message != "" {
		sb.WriteString(errorStyle.Render(m.message))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render("hold w/a/s/d or arrows: jog   release or space: stop   h: home   q: quit"))
	sb.WriteString("\n")
	return sb.String()
}

func jogName(d rig.JogDirection) string {
	switch d {
	case rig.JogUp:
		return "up"
	case rig.JogDown:
		return "down"
	case rig.JogLeft:
		return "left"
	case rig.JogRight:
		return "right"
	case rig.JogStop:
		return "stop"
	default:
		return string(d)
	}
}

func (c *JogCommand) Execute(args []string) error {
	var (
		client *rig.Client
		calib  rig.Calibration
	)
	if c.Simulate {
		client, _ = rig.NewSimulator(rig.DefaultSimOptions())
		calib = simConfig().Calibration
	} else {
		cfg := loadConfig()
		link, err := rig.OpenSerial(cfg.Transport.Port, cfg.Transport.Options)
		if err != nil {
			log.Fatalf("Failed to open transport: %v", err)
		}
		client = rig.NewClient(rig.Transport, link)
		calib = cfg.Calibration
	}
	defer client.Close()

	rig.SetLogger(nil)

	p := tea.NewProgram(jogModel{client: client, calib: calib})
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
	return nil
}
