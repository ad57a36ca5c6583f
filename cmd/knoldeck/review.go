package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/app"
	"github.com/conorfennell/knoldeck/internal/review"
	"github.com/conorfennell/knoldeck/internal/scheduler"
)

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review [deck]",
		Short: "Review the cards of a deck that are due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			deck, err := s.findDeck(args[0])
			if err != nil {
				return err
			}
			if err := s.core.EnterReview(deck.ID); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), startupWait)
			_, err = s.core.WaitFor(ctx, func(v app.View) bool {
				return v.Session != nil && v.Session.Phase != review.Uninitialized.String()
			})
			cancel()
			if err != nil {
				return fmt.Errorf("waiting for cards: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Reviewing %s\n", deck.Name)
			if err := runReview(s.core, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if err := s.core.ExitReview(); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	}
}

// reviewer is the part of app.Core an interactive review drives.
type reviewer interface {
	View() (app.View, error)
	Rate(key string, r scheduler.Rating) error
	RestartSession() error
}

// runReview shows each queued card, reveals its back on enter and rates it
// with the typed rating. It returns when the input ends or the user quits.
func runReview(core reviewer, in io.Reader, out io.Writer) error {
	lines := bufio.NewScanner(in)
	prompt := func(text string) (string, bool) {
		fmt.Fprint(out, text)
		if !lines.Scan() {
			fmt.Fprintln(out)
			return "", false
		}
		return strings.TrimSpace(lines.Text()), true
	}

	for {
		v, err := core.View()
		if err != nil {
			return err
		}
		sv := v.Session
		if sv == nil {
			return nil
		}

		if sv.Phase == review.Exhausted.String() || sv.Head == nil {
			printSummary(out, sv)
			answer, ok := prompt("No cards due. [r]estart or [q]uit: ")
			if !ok || !strings.HasPrefix(strings.ToLower(answer), "r") {
				return nil
			}
			if err := core.RestartSession(); err != nil {
				return err
			}
			continue
		}

		head := sv.Head
		fmt.Fprintf(out, "\n[%d/%d] %s\n", sv.Reviewed+1, sv.Total, head.Card.Front)
		if answer, ok := prompt("(enter to reveal, q to quit) "); !ok || answer == "q" {
			return nil
		}
		fmt.Fprintf(out, "%s\n", head.Card.Back)

		for {
			answer, ok := prompt("Rate 0 again, 1 hard, 2 good, 3 easy (q to quit): ")
			if !ok || answer == "q" {
				return nil
			}
			r, err := scheduler.ParseRating(answer)
			if err != nil {
				fmt.Fprintln(out, "Unknown rating:", answer)
				continue
			}
			if err := core.Rate(head.Key, r); err != nil {
				return err
			}
			break
		}

		if v, err := core.View(); err == nil && v.Session != nil && v.Session.Message != "" {
			fmt.Fprintln(out, v.Session.Message)
		}
	}
}

func printSummary(out io.Writer, sv *review.View) {
	fmt.Fprintf(out, "Reviewed %d of %d.", sv.Reviewed, sv.Total)
	for _, r := range scheduler.Ratings {
		if n := sv.Counters[r]; n > 0 {
			fmt.Fprintf(out, " %s: %d", r, n)
		}
	}
	fmt.Fprintln(out)
}
