// Package template renders campaign message content from a lead's
// quiz-answer variables.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/segment"
)

// SMSMaxLen is the single-segment SMS length; longer content is
// truncated and flagged in the result.
const SMSMaxLen = 160

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{name}} placeholders from vars. A placeholder whose
// variable is absent renders as a visible [missing: name] marker instead
// of being blanked, so broken campaigns show up in delivered content.
func Render(tpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return "[missing: " + name + "]"
	})
}

// Result is rendered, channel-ready content.
type Result struct {
	Content   string
	Subject   string
	MediaRef  string
	Truncated bool
}

// ForCampaign picks the template for the lead (first matching bucket,
// then the base template), renders it and applies channel rules:
// SMS is truncated past SMSMaxLen, email requires a non-empty subject,
// whatsapp carries the campaign's optional media reference.
func ForCampaign(c *model.Campaign, l *model.Lead) (*Result, error) {
	tpl := c.Template
	for _, b := range c.Buckets {
		if segment.Matches(b.Filter, l.Variables) {
			tpl = b.Template
			break
		}
	}

	if strings.TrimSpace(tpl) == "" {
		return nil, fmt.Errorf("campaign %d has an empty template", c.ID)
	}

	res := &Result{Content: Render(tpl, l.Variables)}

	switch c.Channel {
	case model.ChannelSMS:
		if runes := []rune(res.Content); len(runes) > SMSMaxLen {
			res.Content = string(runes[:SMSMaxLen])
			res.Truncated = true
		}
	case model.ChannelEmail:
		if strings.TrimSpace(c.Subject) == "" {
			return nil, fmt.Errorf("campaign %d: email campaigns require a subject", c.ID)
		}
		res.Subject = Render(c.Subject, l.Variables)
	case model.ChannelWhatsApp:
		res.MediaRef = c.MediaRef
	}

	return res, nil
}
