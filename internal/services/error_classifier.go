package services

import "strings"

// ClassificationRule maps a substring of a raw failure to a user-facing message.
type ClassificationRule struct {
	Match string
	Kind  Kind
	Lines []string
}

// DefaultClassificationRules is ordered most specific first; the first match wins.
var DefaultClassificationRules = []ClassificationRule{
	{Match: "insufficient funds", Kind: KindDevice, Lines: []string{"The card has insufficient funds.", "Ask the customer for another card or take cash."}},
	{Match: "expired card", Kind: KindDevice, Lines: []string{"The card is expired.", "Ask the customer for another card."}},
	{Match: "incorrect pin", Kind: KindDevice, Lines: []string{"The PIN was incorrect.", "Ask the customer to try again."}},
	{Match: "card was declined", Kind: KindDevice, Lines: []string{"The card was declined.", "Ask the customer for another card or take cash."}},
	{Match: "card declined", Kind: KindDevice, Lines: []string{"The card was declined.", "Ask the customer for another card or take cash."}},
	{Match: "canceled", Kind: KindDevice, Lines: []string{"The payment was canceled on the reader."}},
	{Match: "cancelled", Kind: KindDevice, Lines: []string{"The payment was canceled on the reader."}},
	{Match: "reader timed out", Kind: KindDevice, Lines: []string{"The reader did not respond in time.", "Check the reader is on and try again."}},
	{Match: "registration code", Kind: KindDevice, Lines: []string{"The registration code was not accepted.", "Generate a new code on the reader and try again."}},
	{Match: "reader is offline", Kind: KindDevice, Lines: []string{"The reader is offline.", "Check the reader's internet connection."}},
	{Match: ErrNoReaderConnected.Error(), Kind: KindDevice, Lines: []string{"No reader is connected.", "Register the reader from the start screen."}},
	{Match: ErrNoPendingCollect.Error(), Kind: KindDevice, Lines: []string{"There is no payment waiting on the reader."}},
	{Match: ErrCartEmpty.Error(), Kind: KindValidation, Lines: []string{"The cart is empty.", "Add at least one item before checking out."}},
	{Match: ErrInvalidEmail.Error(), Kind: KindValidation, Lines: []string{"That email address doesn't look right."}},
	{Match: ErrNoOrderForReceipt.Error(), Kind: KindValidation, Lines: []string{"There is no recent order to send a receipt for."}},
	{Match: ErrOrderInFlight.Error(), Kind: KindValidation, Lines: []string{"The order is still being saved.", "Wait a moment before trying again."}},
	{Match: "status 404", Kind: KindNetwork, Lines: []string{"The server could not find that record."}},
	{Match: "status 5", Kind: KindNetwork, Lines: []string{"The server had a problem.", "Try again in a moment."}},
	{Match: "connection refused", Kind: KindNetwork, Lines: []string{"Unable to reach the server.", "Check the register's internet connection."}},
	{Match: "no such host", Kind: KindNetwork, Lines: []string{"Unable to reach the server.", "Check the register's internet connection."}},
	{Match: "network error", Kind: KindNetwork, Lines: []string{"Unable to reach the server.", "Check the register's internet connection."}},
	{Match: "deadline exceeded", Kind: KindNetwork, Lines: []string{"The server took too long to respond.", "Try again in a moment."}},
	{Match: "timeout", Kind: KindNetwork, Lines: []string{"The server took too long to respond.", "Try again in a moment."}},
}

// SubstringClassifier classifies by case-insensitive substring match over an ordered table.
type SubstringClassifier struct {
	rules []ClassificationRule
}

// NewSubstringClassifier copies rules; nil selects DefaultClassificationRules.
func NewSubstringClassifier(rules []ClassificationRule) *SubstringClassifier {
	if rules == nil {
		rules = DefaultClassificationRules
	}
	copied := make([]ClassificationRule, 0, len(rules))
	for _, rule := range rules {
		if strings.TrimSpace(rule.Match) == "" {
			continue
		}
		rule.Match = strings.ToLower(rule.Match)
		rule.Lines = append([]string(nil), rule.Lines...)
		copied = append(copied, rule)
	}
	return &SubstringClassifier{rules: copied}
}

// Classify returns the first matching rule's message, or the raw text as a
// single line when nothing matches.
func (c *SubstringClassifier) Classify(raw string) ErrorMessage {
	lowered := strings.ToLower(raw)
	for _, rule := range c.rules {
		if strings.Contains(lowered, rule.Match) {
			return ErrorMessage{
				Kind:  rule.Kind,
				Lines: append([]string(nil), rule.Lines...),
				Raw:   raw,
			}
		}
	}
	return ErrorMessage{Kind: KindUnclassified, Lines: []string{raw}, Raw: raw}
}
