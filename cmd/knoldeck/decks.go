package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/due"
)

func decksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decks",
		Short: "List decks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.core.View()
			if err != nil {
				return err
			}
			if len(v.Decks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No decks yet. Add one with: knoldeck deck add <name>")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, d := range v.Decks {
				fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Name)
			}
			return w.Flush()
		},
	}
}

func deckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deck",
		Short: "Add, rename or delete a deck",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [name]",
		Short: "Add a deck",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.core.AddDeck(strings.Join(args, " ")); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename [deck] [name]",
		Short: "Rename a deck",
		Args:  cobra.MinimumNArgs(2),
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
			if err := s.core.RenameDeck(deck.ID, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [deck]",
		Short: "Delete a deck and its cards",
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
			if err := s.core.DeleteDeck(deck.ID); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	})

	return cmd
}

func cardsCmd() *cobra.Command {
	var dueOnly bool

	cmd := &cobra.Command{
		Use:   "cards [deck]",
		Short: "List the cards of a deck",
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
			v, err := s.loadCards(cmd, deck.ID)
			if err != nil {
				return err
			}

			cards := v.Cards
			if dueOnly {
				cards = due.Cards(cards, deck.ID, time.Now())
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFRONT\tBACK\tINTERVAL\tDUE")
			for _, c := range cards {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, oneLine(c.Front), oneLine(c.Back), c.IntervalDays, c.DueDate)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&dueOnly, "due", false, "only list cards due today, oldest first")
	return cmd
}

func cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Add, edit or delete a card",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [deck] [front] [back]",
		Short: "Add a card, due today",
		Args:  cobra.ExactArgs(3),
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
			if _, err := s.loadCards(cmd, deck.ID); err != nil {
				return err
			}
			if err := s.core.AddCard(deck.ID, args[1], args[2]); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	})

	var front, back string
	edit := &cobra.Command{
		Use:   "edit [deck] [card-id]",
		Short: "Change the front or back of a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			card, err := s.findCard(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("front") {
				card.Front = front
			}
			if cmd.Flags().Changed("back") {
				card.Back = back
			}
			if err := s.core.UpdateCard(card.ID, card); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	}
	edit.Flags().StringVar(&front, "front", "", "new front")
	edit.Flags().StringVar(&back, "back", "", "new back")
	cmd.AddCommand(edit)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [deck] [card-id]",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			card, err := s.findCard(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			if err := s.core.DeleteCard(card.ID); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	})

	return cmd
}

func (s *session) findCard(cmd *cobra.Command, deckRef, cardID string) (domain.Card, error) {
	deck, err := s.findDeck(deckRef)
	if err != nil {
		return domain.Card{}, err
	}
	v, err := s.loadCards(cmd, deck.ID)
	if err != nil {
		return domain.Card{}, err
	}
	for _, c := range v.Cards {
		if c.ID == cardID {
			return c, nil
		}
	}
	return domain.Card{}, fmt.Errorf("card %q: %w", cardID, domain.ErrNotFound)
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) > 40 {
		return string([]rune(s)[:39]) + "…"
	}
	return s
}
