package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// MessageRef is a lightweight reference returned by a list call.
type MessageRef struct {
	ID       string
	ThreadID string
}

// EmailMessage is a fully fetched message with extracted headers and body.
type EmailMessage struct {
	ID           string
	ThreadID     string
	Subject      string
	From         string
	DateHeader   string // raw Date header as sent by the provider
	Date         time.Time
	InternalDate time.Time
	BodyText     string
	BodyHTML     string
	Snippet      string
	Labels       []string
}

type Client struct {
	service *gmail.Service
}

// NewClient builds a Gmail client for a single mailbox. The refresh token is
// wrapped in an oauth2 token source so access tokens renew automatically.
func NewClient(ctx context.Context, clientID, clientSecret, refreshToken string) (*Client, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}

	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{service: service}, nil
}

// ListMessages lists message references under the given label received after
// the given time. Safe to call repeatedly; listing never mutates the mailbox.
func (c *Client) ListMessages(ctx context.Context, label string, after time.Time) ([]MessageRef, error) {
	query := fmt.Sprintf("label:%s after:%d", label, after.Unix())

	var refs []MessageRef
	pageToken := ""
	for {
		listCall := c.service.Users.Messages.List("me").Q(query).MaxResults(500)
		if pageToken != "" {
			listCall = listCall.PageToken(pageToken)
		}

		listResp, err := listCall.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}

		for _, msg := range listResp.Messages {
			refs = append(refs, MessageRef{ID: msg.Id, ThreadID: msg.ThreadId})
		}

		if listResp.NextPageToken == "" {
			break
		}
		pageToken = listResp.NextPageToken
	}

	log.Printf("Gmail API returned %d message refs for query %q", len(refs), query)
	return refs, nil
}

// GetFullMessage fetches a single message by its Gmail message ID.
func (c *Client) GetFullMessage(ctx context.Context, messageID string) (*EmailMessage, error) {
	fullMsg, err := c.service.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}

	emailMsg := parseMessage(fullMsg)
	return &emailMsg, nil
}

// parseMessage extracts headers and bodies from a Gmail API message.
func parseMessage(msg *gmail.Message) EmailMessage {
	emailMsg := EmailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}

	// Internal date is milliseconds since epoch
	if msg.InternalDate > 0 {
		emailMsg.InternalDate = time.UnixMilli(msg.InternalDate)
	}

	if msg.Payload == nil {
		return emailMsg
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			emailMsg.Subject = header.Value
		case "From":
			emailMsg.From = header.Value
		case "Date":
			emailMsg.DateHeader = header.Value
			parsedDate, err := ParseEmailDate(header.Value)
			if err != nil {
				log.Printf("Warning: failed to parse date '%s': %v", header.Value, err)
			} else {
				emailMsg.Date = parsedDate
			}
		}
	}

	bodyText, bodyHTML := extractBodies(msg.Payload)
	emailMsg.BodyText = bodyText
	emailMsg.BodyHTML = bodyHTML

	return emailMsg
}

// extractBodies extracts both text and HTML bodies from message payload
func extractBodies(payload *gmail.MessagePart) (string, string) {
	var textPlain, textHTML string

	if payload.Body != nil && payload.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			switch payload.MimeType {
			case "text/plain":
				textPlain = string(decoded)
			case "text/html":
				textHTML = string(decoded)
			}
		}
	}

	extractBodiesFromParts(payload.Parts, &textPlain, &textHTML)

	return textPlain, textHTML
}

// extractBodiesFromParts recursively extracts text and HTML from message parts
func extractBodiesFromParts(parts []*gmail.MessagePart, textPlain, textHTML *string) {
	for _, part := range parts {
		if part.Body != nil && part.Body.Data != "" {
			decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
			if err == nil {
				if part.MimeType == "text/plain" && *textPlain == "" {
					*textPlain = string(decoded)
				} else if part.MimeType == "text/html" && *textHTML == "" {
					*textHTML = string(decoded)
				}
			}
		}

		if len(part.Parts) > 0 {
			extractBodiesFromParts(part.Parts, textPlain, textHTML)
		}
	}
}

// ParseEmailDate parses various email date formats
func ParseEmailDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	dateStr = strings.TrimSpace(dateStr)

	// Gmail sometimes appends a timezone name in parentheses after the
	// numeric offset, e.g. "(UTC)".
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
