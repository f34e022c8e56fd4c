package utils

import (
	"errors"
	"fmt"
	"html"
	"net/smtp"
	"sort"
	"strings"
)

var ErrEmailDisabled = errors.New("email configuration not set")

type MailerConfig struct {
	Host      string
	Port      string
	Username  string
	Password  string
	FromEmail string
	FromName  string
	AppURL    string
}

// Mailer sends HTML mail over SMTP with PLAIN auth.
type Mailer struct {
	cfg      MailerConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg MailerConfig) *Mailer {
	if cfg.FromEmail == "" {
		cfg.FromEmail = cfg.Username
	}
	if cfg.FromName == "" {
		cfg.FromName = "Campus Ride-Share"
	}
	return &Mailer{cfg: cfg, sendMail: smtp.SendMail}
}

func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg.Host != "" && m.cfg.Port != "" && m.cfg.Username != "" && m.cfg.Password != ""
}

// Common header template for all emails
const emailHeader = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; margin: 0; padding: 0;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<div style="text-align: center; margin-bottom: 30px; background-color: #f9f9f9; padding: 20px;">
			<h2 style="color: #1a73e8; margin: 0;">Campus Ride-Share</h2>
		</div>
		<div style="background-color: #f9f9f9; padding: 20px; border-radius: 5px;">
`

// Common footer template for all emails
const emailFooter = `
			<p>Best regards,<br>The Campus Ride-Share Team</p>
		</div>
		<div style="text-align: center; margin-top: 20px; font-size: 12px; color: #666; border-top: 1px solid #eee; padding-top: 20px;">
			<p>This is an automated message, please do not reply to this email.</p>
		</div>
	</div>
</body>
</html>
`

const buttonTemplate = `<div style="text-align: center; margin: 30px 0;">
				<a href="%s" style="background-color: #1a73e8; color: white; padding: 12px 25px; text-decoration: none; border-radius: 5px;">%s</a>
			</div>`

func (m *Mailer) Send(to, subject, body string) error {
	if !m.Enabled() {
		return ErrEmailDisabled
	}

	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromEmail),
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msg strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, headers[k])
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	return m.sendMail(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.FromEmail, []string{to}, []byte(msg.String()))
}

func (m *Mailer) link(path string) string {
	return strings.TrimRight(m.cfg.AppURL, "/") + path
}

func (m *Mailer) SendVerificationEmail(to, name, code string) error {
	body := emailHeader + fmt.Sprintf(`
			<h1 style="color: #2c3e50; text-align: center;">Verify your account</h1>
			<p>Hello %s,</p>
			<p>Use this code to verify your university email address:</p>
			<p style="font-size: 28px; letter-spacing: 6px; text-align: center;"><strong>%s</strong></p>
			<p>The code expires in 24 hours.</p>`, html.EscapeString(name), code) + emailFooter
	return m.Send(to, "Verify your Campus Ride-Share account", body)
}

func (m *Mailer) SendPasswordResetEmail(to, name, code string) error {
	body := emailHeader + fmt.Sprintf(`
			<h1 style="color: #2c3e50; text-align: center;">Reset your password</h1>
			<p>Hello %s,</p>
			<p>Your password reset code is:</p>
			<p style="font-size: 28px; letter-spacing: 6px; text-align: center;"><strong>%s</strong></p>
			<p>The code expires in 1 hour. If you did not ask for a reset you can ignore this email.</p>`,
		html.EscapeString(name), code) + emailFooter
	return m.Send(to, "Reset your Campus Ride-Share password", body)
}

// RideEmail carries what the ride notification templates need.
type RideEmail struct {
	Kind          string
	RecipientName string
	OtherName     string
	RideID        uint
	Origin        string
	Destination   string
	DepartureDate string
	DepartureTime string
}

// RenderRideEmail returns the subject and HTML body for a ride notification kind. ok is
// false for kinds without an email template.
func (m *Mailer) RenderRideEmail(e RideEmail) (subject, body string, ok bool) {
	esc := html.EscapeString
	details := fmt.Sprintf(`
			<ul>
				<li>From: %s</li>
				<li>To: %s</li>
				<li>Date: %s</li>
				<li>Time: %s</li>
			</ul>`, esc(e.Origin), esc(e.Destination), esc(e.DepartureDate), esc(e.DepartureTime))
	rideLink := fmt.Sprintf(buttonTemplate, m.link(fmt.Sprintf("/rides/%d", e.RideID)), "View ride")

	var heading, lead string
	switch e.Kind {
	case "booking_requested":
		subject = "New booking request for your ride to " + e.Destination
		heading = "New Booking Request"
		lead = fmt.Sprintf("<strong>%s</strong> asked for a seat on your ride. Please review and respond.", esc(e.OtherName))
	case "booking_confirmed":
		subject = fmt.Sprintf("Your booking to %s has been confirmed!", e.Destination)
		heading = "Booking Confirmed"
		lead = fmt.Sprintf("Good news! <strong>%s</strong> confirmed your seat.", esc(e.OtherName))
	case "booking_rejected":
		subject = "Update on your booking request"
		heading = "Booking Not Accepted"
		lead = "Unfortunately the driver could not accept your request. Other rides may still have seats."
		rideLink = fmt.Sprintf(buttonTemplate, m.link("/rides"), "Find another ride")
	case "booking_cancelled":
		subject = "Booking cancellation notice"
		heading = "Booking Cancelled"
		lead = fmt.Sprintf("The booking with <strong>%s</strong> was cancelled.", esc(e.OtherName))
	case "ride_cancelled":
		subject = fmt.Sprintf("Ride to %s cancelled", e.Destination)
		heading = "Ride Cancelled"
		lead = "This ride has been cancelled and will no longer take place."
	case "ride_completed":
		subject = fmt.Sprintf("Your ride to %s is complete", e.Destination)
		heading = "Ride Completed"
		lead = "Thanks for sharing the ride."
	case "rating_requested":
		subject = "How was your ride? Rate " + e.OtherName
		heading = "Rate Your Ride"
		lead = fmt.Sprintf("Let other students know how your ride with <strong>%s</strong> went.", esc(e.OtherName))
	default:
		return "", "", false
	}

	body = emailHeader + fmt.Sprintf(`
			<h1 style="color: #2c3e50; text-align: center;">%s</h1>
			<p>Hello %s,</p>
			<p>%s</p>%s
			%s`, heading, esc(e.RecipientName), lead, details, rideLink) + emailFooter
	return subject, body, true
}
