package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joaotav/malicious-network-agents/game"
)

const roundTimeout = 30 * time.Second

var (
	banner  = color.New(color.FgCyan, color.Bold)
	prompt  = color.New(color.FgGreen, color.Bold)
	result  = color.New(color.FgYellow, color.Bold)
	errText = color.New(color.FgRed)
)

// repl reads commands until EOF or an explicit exit.
func repl(g *game.Game) {
	banner.Println("Welcome to Liars Lie!")
	fmt.Println(`Agents in this game report a numeric value when asked, but some of them lie.
Start a game and query the network to find out the real value.
Type "help" for the list of commands.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		prompt.Print(">> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		cmd, args := fields[0], fields[1:]
		if cmd == "exit" || cmd == "quit" {
			return
		}
		if err := dispatch(g, cmd, args); err != nil {
			errText.Printf("Error: %v\n", err)
		}
	}
}

func dispatch(g *game.Game, cmd string, args []string) error {
	switch cmd {
	case "start":
		return runStart(g, args)
	case "play":
		return runPlay(g)
	case "playexpert":
		return runPlayExpert(g, args)
	case "extend":
		return runExtend(g, args)
	case "kill":
		return runKill(g, args)
	case "stop":
		return runStop(g)
	case "help":
		printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command %q, type \"help\" for usage", cmd)
	}
}

func printHelp() {
	fmt.Println(`Commands:
  start <value> <max-value> <num-agents> <liar-ratio>
        Launch a game: num-agents agents holding value, a liar-ratio share
        of them lying with a value in [1, max-value].
  play
        Query every agent directly and infer the network value.
  playexpert <num-agents> <liar-ratio>
        Query a sampled subset of agents that relay the votes of the rest.
  extend <num-agents> <liar-ratio>
        Add agents to the running game.
  kill <agent-id>
        Terminate one agent.
  stop
        End the game and terminate all agents.
  exit
        Leave the shell (stops any running game).`)
}

func runStart(g *game.Game, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: start <value> <max-value> <num-agents> <liar-ratio>")
	}

	value, err := parseValue(args[0])
	if err != nil {
		return err
	}
	maxValue, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil || maxValue < 2 {
		return fmt.Errorf("max-value must be an integer greater than 1, got %q", args[1])
	}
	if value > maxValue {
		return fmt.Errorf("value %d must not exceed max-value %d", value, maxValue)
	}
	numAgents, err := parseCount(args[2])
	if err != nil {
		return err
	}
	ratio, err := parseRatio(args[3])
	if err != nil {
		return err
	}

	if err := g.Start(value, maxValue, numAgents, ratio); err != nil {
		return err
	}
	status := g.Status()
	result.Printf("Game started with %d agents.\n", status.Agents)
	return nil
}

func runPlay(g *game.Game) error {
	ctx, cancel := context.WithTimeout(context.Background(), roundTimeout)
	defer cancel()

	inferred, err := g.Play(ctx)
	if err != nil {
		return err
	}
	printInferred(inferred)
	return nil
}

func runPlayExpert(g *game.Game, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: playexpert <num-agents> <liar-ratio>")
	}
	numAgents, err := parseCount(args[0])
	if err != nil {
		return err
	}
	ratio, err := parseRatio(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), roundTimeout)
	defer cancel()

	inferred, err := g.PlayExpert(ctx, numAgents, ratio)
	if err != nil {
		return err
	}
	printInferred(inferred)
	return nil
}

func runExtend(g *game.Game, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: extend <num-agents> <liar-ratio>")
	}
	numAgents, err := parseCount(args[0])
	if err != nil {
		return err
	}
	ratio, err := parseRatio(args[1])
	if err != nil {
		return err
	}

	if err := g.Extend(numAgents, ratio); err != nil {
		return err
	}
	result.Printf("Game extended, %d agents now playing.\n", g.Status().Agents)
	return nil
}

func runKill(g *game.Game, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: kill <agent-id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("agent-id must be a positive integer, got %q", args[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), roundTimeout)
	defer cancel()

	if err := g.Kill(ctx, id); err != nil {
		return err
	}
	result.Printf("Agent %d terminated.\n", id)
	return nil
}

func runStop(g *game.Game) error {
	ctx, cancel := context.WithTimeout(context.Background(), roundTimeout)
	defer cancel()

	if err := g.Stop(ctx); err != nil {
		return err
	}
	result.Println("Game stopped, all agents terminated.")
	return nil
}

func printInferred(inferred []uint64) {
	switch len(inferred) {
	case 0:
		errText.Println("No agent answered; the network value could not be inferred.")
	case 1:
		result.Printf("The network value is %d.\n", inferred[0])
	default:
		parts := make([]string, len(inferred))
		for i, v := range inferred {
			parts[i] = strconv.FormatUint(v, 10)
		}
		result.Printf("The vote is tied between: %s.\n", strings.Join(parts, ", "))
	}
}

func parseValue(arg string) (uint64, error) {
	value, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || value < 1 {
		return 0, fmt.Errorf("value must be an integer of at least 1, got %q", arg)
	}
	return value, nil
}

func parseCount(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("num-agents must be an integer of at least 1, got %q", arg)
	}
	return n, nil
}

func parseRatio(arg string) (float64, error) {
	ratio, err := strconv.ParseFloat(arg, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 0, fmt.Errorf("liar-ratio must be within [0, 1], got %q", arg)
	}
	return ratio, nil
}
