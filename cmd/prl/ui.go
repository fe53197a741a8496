package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"parlor/internal/room"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderSnapshot(snap room.Snapshot) {
	r := snap.Room
	accent.Printf("room %s  status=%s  round=%d  v%d\n", r.ID, r.Status, r.Round, r.StatusVersion)

	players := append([]room.Player(nil), snap.Players...)
	sort.Slice(players, func(i, j int) bool { return players[i].OrderIndex < players[j].OrderIndex })
	for _, p := range players {
		marker := " "
		if p.ID == r.HostID {
			marker = "*"
		}
		presence := danger.Sprint("offline")
		if p.IsOnline {
			presence = success.Sprint("online")
		}
		ready := ""
		if p.Ready {
			ready = " [ready]"
		}
		clue := ""
		if p.Clue != "" {
			clue = fmt.Sprintf("  clue=%q", p.Clue)
		}
		fmt.Printf("  %s %-24s %s%s%s\n", marker, p.Name, presence, ready, clue)
	}

	if len(r.Order.Proposal) > 0 {
		names := namesByID(players)
		parts := make([]string, len(r.Order.Proposal))
		for i, id := range r.Order.Proposal {
			if id == "" {
				parts[i] = "·"
			} else if name, ok := names[id]; ok {
				parts[i] = name
			} else {
				parts[i] = id
			}
		}
		fmt.Printf("  proposal: [%s]\n", strings.Join(parts, " "))
	}

	if r.Status == room.StatusReveal || r.Status == room.StatusFinished {
		if r.Order.Failed {
			danger.Printf("  order failed at position %d\n", r.Order.FailedAt)
		} else if len(r.Order.List) > 0 {
			success.Println("  order correct")
		}
	}
}

func namesByID(players []room.Player) map[string]string {
	out := make(map[string]string, len(players))
	for _, p := range players {
		out[p.ID] = p.Name
	}
	return out
}
