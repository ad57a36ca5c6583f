package app

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/knol"
)

// MaxDeckName is the longest deck name accepted, in characters.
const MaxDeckName = 30

type deckInput struct {
	Name string `validate:"required,max=30,singleline"`
}

type cardInput struct {
	Front string `validate:"required"`
	Back  string `validate:"required"`
}

var validationMessages = map[string]string{
	"Name.required":   "Name can't be empty",
	"Name.max":        "Name can't be longer than 30 characters",
	"Name.singleline": "Name must be a single line",
	"Front.required":  "Front and Back can't be empty",
	"Back.required":   "Front and Back can't be empty",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("singleline", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})
	if err != nil {
		panic("app: registering singleline rule: " + err.Error())
	}
	return v
}

// check runs the struct rules on in and turns the first failure into a
// domain.ValidationError.
func (c *Core) check(in any) error {
	err := c.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	msg, ok := validationMessages[fe.Field()+"."+fe.Tag()]
	if !ok {
		msg = fe.Error()
	}
	return domain.Invalid(strings.ToLower(fe.Field()), msg)
}

// deckName trims and checks name. A rename passes the deck's own id so it
// does not collide with itself.
func (c *Core) deckName(name, selfID string) (string, error) {
	name = strings.TrimSpace(name)
	if err := c.check(deckInput{Name: name}); err != nil {
		return "", err
	}
	for _, d := range c.subs.Decks() {
		if d.ID != selfID && strings.EqualFold(d.Name, name) {
			return "", domain.Invalid("name", "A deck with that name already exists")
		}
	}
	return name, nil
}

// cardContent trims and checks a card's sides against the cached cards of
// deckID. An edit passes the card's own id.
func (c *Core) cardContent(deckID, front, back, selfID string) (string, string, error) {
	front, back = strings.TrimSpace(front), strings.TrimSpace(back)
	if err := c.check(cardInput{Front: front, Back: back}); err != nil {
		return "", "", err
	}
	cards, cached := c.subs.Cards()
	if cached != deckID {
		return front, back, nil
	}
	for _, card := range cards {
		if card.ID != selfID && knol.Same(card.Front, card.Back, front, back) {
			return "", "", domain.Invalid("card", "A card with the same front and back already exists")
		}
	}
	return front, back, nil
}
