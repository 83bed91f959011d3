// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends alert mails when a link fails to come up.
package alert // import "github.com/go-lpc/linkup/internal/alert"

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// Mailer sends alert mails through an SMTP server.
type Mailer struct {
	Server string
	Port   int
	User   string
	Pwd    string
	Tgts   []string

	send func(d *mail.Dialer, msgs ...*mail.Message) error
}

// FromEnv creates a mailer from the MAIL_SERVER, MAIL_PORT,
// MAIL_USERNAME, MAIL_PASSWORD and MAIL_TGTS (comma separated)
// environment variables.
func FromEnv() *Mailer {
	port, _ := strconv.Atoi(os.Getenv("MAIL_PORT"))
	var tgts []string
	for _, tgt := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		tgt = strings.TrimSpace(tgt)
		if tgt == "" {
			continue
		}
		tgts = append(tgts, tgt)
	}
	return &Mailer{
		Server: os.Getenv("MAIL_SERVER"),
		Port:   port,
		User:   os.Getenv("MAIL_USERNAME"),
		Pwd:    os.Getenv("MAIL_PASSWORD"),
		Tgts:   tgts,
	}
}

// Valid reports whether the mailer has all the credentials it needs.
func (m *Mailer) Valid() bool {
	return m != nil &&
		m.Server != "" && m.Port != 0 &&
		m.User != "" && m.Pwd != "" &&
		len(m.Tgts) > 0
}

// Send sends an alert mail with the provided subject and body.
func (m *Mailer) Send(subject, body string) error {
	if !m.Valid() {
		return fmt.Errorf("alert: could not send mail alert: missing credentials")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.User)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", "[linkup] "+subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(m.Server, m.Port, m.User, m.Pwd)
	dial.TLSConfig = &tls.Config{
		ServerName: m.Server,
	}

	send := m.send
	if send == nil {
		send = func(d *mail.Dialer, msgs ...*mail.Message) error {
			return d.DialAndSend(msgs...)
		}
	}

	err := send(dial, msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail alert: %w", err)
	}
	return nil
}
