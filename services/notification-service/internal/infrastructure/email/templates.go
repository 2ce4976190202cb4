package email

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
)

// Rendered is a ready-to-send email body pair.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type content struct {
	subject string
	heading string
	intro   string
	button  string
}

var contents = map[notify.MailKind]content{
	notify.MailConfirmation: {
		subject: "Confirm your booking",
		heading: "Confirm your booking",
		intro:   "Thanks for booking. Please confirm your place using the button below.",
		button:  "Confirm booking",
	},
	notify.MailBookingCancelled: {
		subject: "Your booking was cancelled",
		heading: "Booking cancelled",
		intro:   "Your booking has been cancelled.",
	},
	notify.MailEventUnavailable: {
		subject: "Your booking could not be completed",
		heading: "Event unavailable",
		intro:   "We could not hold a place for you at this event.",
	},
	notify.MailBookingsUpdated: {
		subject: "An event you booked has changed",
		heading: "Event updated",
		intro:   "An event you booked has been updated.",
	},
	notify.MailEventCancelled: {
		subject: "An event you booked was cancelled",
		heading: "Event cancelled",
		intro:   "An event you booked has been cancelled and your booking with it.",
	},
}

const layout = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>{{.Heading}}</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h1 style="color: #2196F3;">{{.Heading}}</h1>
		<p>Hello {{.Username}},</p>
		<p>{{.Intro}}</p>
		{{- if .Message}}
		<p>{{.Message}}</p>
		{{- end}}
		{{- if .Note}}
		<p style="color: #555;"><em>{{.Note}}</em></p>
		{{- end}}
		{{- if .Link}}
		<div style="text-align: center; margin: 30px 0;">
			<a href="{{.Link}}" style="background-color: #2196F3; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">{{.Button}}</a>
		</div>
		<p>Or copy and paste this link into your browser:</p>
		<p style="word-break: break-all; color: #666;">{{.Link}}</p>
		{{- end}}
		<p style="color: #666;">Booking #{{.BookingID}} for event #{{.EventID}}</p>
		<hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
		<p style="color: #999; font-size: 12px;">This is an automated message, please do not reply.</p>
	</div>
</body>
</html>`

var page = template.Must(template.New("mail").Parse(layout))

// Render builds the subject, text and HTML bodies for m.
func Render(m notify.Mail) (Rendered, error) {
	c, ok := contents[m.Kind]
	if !ok {
		return Rendered{}, PermanentError{msg: fmt.Sprintf("no template for mail kind %q", m.Kind)}
	}

	data := struct {
		Heading   string
		Intro     string
		Button    string
		Username  string
		Message   string
		Note      string
		Link      string
		BookingID int64
		EventID   int64
	}{
		Heading:   c.heading,
		Intro:     c.intro,
		Button:    c.button,
		Username:  m.Username,
		Message:   m.Message,
		Note:      m.Note,
		Link:      m.Link,
		BookingID: m.BookingID,
		EventID:   m.EventID,
	}

	var buf strings.Builder
	if err := page.Execute(&buf, data); err != nil {
		return Rendered{}, PermanentError{msg: "failed to execute template: " + err.Error()}
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hello %s,\n\n%s\n", m.Username, c.intro)
	if m.Message != "" {
		fmt.Fprintf(&text, "\n%s\n", m.Message)
	}
	if m.Note != "" {
		fmt.Fprintf(&text, "\n%s\n", m.Note)
	}
	if m.Link != "" {
		fmt.Fprintf(&text, "\n%s:\n%s\n", c.button, m.Link)
	}
	fmt.Fprintf(&text, "\nBooking #%d for event #%d\n", m.BookingID, m.EventID)

	return Rendered{Subject: c.subject, Text: text.String(), HTML: buf.String()}, nil
}
