package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies
// it; tests use a stub.
type execIface interface {
	isAuthorized(ctx context.Context) bool
	Authorize(ctx context.Context, args []string) error
	Logout(ctx context.Context) error
	AddThing(ctx context.Context, args []string) error
	AddVideo(ctx context.Context, args []string) error
	List(ctx context.Context) error
	Delete(ctx context.Context, args []string) error
	DeleteVideo(ctx context.Context, args []string) error
	Rerecord(ctx context.Context, args []string) error
	Status(ctx context.Context) error
	Pending(ctx context.Context) error
	Refresh(ctx context.Context) error
	Forget(ctx context.Context, args []string) error
}

const (
	helpAuthorized = "Available commands: addthing, addvideo, (l)ist, delete, deletevideo, rerecord, status, pending, refresh, forget, logout, exit"
	helpAnonymous  = "Available commands: authorize, addthing, addvideo, (l)ist, delete, deletevideo, rerecord, status, pending, exit"
)

// runREPL reads commands from scanner until EOF, "exit" or "quit" and
// dispatches them to a. Handler errors are printed and the loop goes on.
// Uploads run in the background the whole time; the prompt only edits the
// collection.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("orbit %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isAuthorized(ctx) {
				printlnFn(helpAuthorized)
			} else {
				printlnFn(helpAnonymous)
			}
		case "authorize":
			err = a.Authorize(ctx, args)
		case "logout":
			err = a.Logout(ctx)
		case "addthing":
			err = a.AddThing(ctx, args)
		case "addvideo":
			err = a.AddVideo(ctx, args)
		case "l", "list":
			err = a.List(ctx)
		case "delete":
			err = a.Delete(ctx, args)
		case "deletevideo":
			err = a.DeleteVideo(ctx, args)
		case "rerecord":
			err = a.Rerecord(ctx, args)
		case "status":
			err = a.Status(ctx)
		case "pending":
			err = a.Pending(ctx)
		case "refresh":
			err = a.Refresh(ctx)
		case "forget":
			err = a.Forget(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

func (a *App) getStatus(ctx context.Context) string {
	var s []string
	if a.isAuthorized(ctx) {
		s = append(s, "authorized")
	}
	if a.monitor != nil {
		if a.monitor.Satisfied() {
			s = append(s, "online")
		} else {
			s = append(s, "offline")
		}
	}
	if len(s) == 0 {
		return ""
	}
	return "(" + strings.Join(s, " ") + ") "
}

// Root runs the interactive prompt on stdin.
func (a *App) Root(ctx context.Context) {
	printlnFn("Welcome to ORBIT collector (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, func() string { return a.getStatus(ctx) }, scanner)
}
