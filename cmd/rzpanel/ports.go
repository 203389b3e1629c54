package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type PortsCommand struct {
	MaxID int `long:"max-id" default:"10" description:"Highest servo id to probe"`
}

type portInfo struct {
	port   string
	servos []feetech.FoundServo
	err    error
}

func (c *PortsCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Serial ports"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	ports, err := findPorts(c.MaxID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
		os.Exit(1)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		var status string
		switch {
		case p.err != nil:
			status = p.err.Error()
		case len(p.servos) == 0:
			status = "no servos"
		default:
			ids := make([]string, 0, len(p.servos))
			for _, s := range p.servos {
				ids = append(ids, fmt.Sprintf("%d", s.ID))
			}
			status = "servo ids " + strings.Join(ids, ", ")
		}
		rows = append(rows, []string{p.port, status})
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Port", "Servos").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 1 && row >= 0 && row < len(ports) && len(ports[row].servos) > 0 {
				return successStyle.Padding(0, 1)
			}
			return cellStyle
		})
	fmt.Println(t.Render())
	fmt.Println()
	fmt.Println("Set " + subHeaderStyle.Render("port") + " in the configuration, then run " + headerStyle.Render("rzpanel calibrate"))
	return nil
}

// findPorts probes every serial port for STS servos with ids 1..maxID.
func findPorts(maxID int) ([]portInfo, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	var ports []portInfo
	for _, port := range names {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		servos, err := probePort(port, maxID)
		ports = append(ports, portInfo{port: port, servos: servos, err: err})
	}
	return ports, nil
}

func probePort(port string, maxID int) ([]feetech.FoundServo, error) {
	bus, err := openBus(port)
	if err != nil {
		return nil, err
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return bus.Scan(ctx, 1, maxID)
}

func openBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}
