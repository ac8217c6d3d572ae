package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"strings"
	"testing"
	"time"
)

type smtpSession struct {
	from  string
	rcpts []string
	data  string
}

// fakeSMTP accepts one plaintext session without auth and reports what it
// received.
func fakeSMTP(t *testing.T) (int, <-chan smtpSession) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	out := make(chan smtpSession, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { fmt.Fprintf(conn, "%s\r\n", s) }
		write("220 fake ESMTP")

		var sess smtpSession
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				write("250-fake")
				write("250 8BITMIME")
			case strings.HasPrefix(cmd, "HELO"):
				write("250 fake")
			case strings.HasPrefix(cmd, "MAIL FROM:"):
				sess.from = line
				write("250 ok")
			case strings.HasPrefix(cmd, "RCPT TO:"):
				sess.rcpts = append(sess.rcpts, line)
				write("250 ok")
			case cmd == "DATA":
				write("354 end with .")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				sess.data = b.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				out <- sess
				return
			default:
				write("502 unknown")
			}
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, out
}

func TestSMTP_Send(t *testing.T) {
	// WHAT: The SMTP gateway delivers a multipart/alternative mail to every recipient.
	port, got := fakeSMTP(t)
	s := &SMTP{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "watch@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Timeout: 5 * time.Second,
	}
	if err := s.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}

	var sess smtpSession
	select {
	case sess = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw QUIT")
	}
	if !strings.Contains(sess.from, "<watch@example.com>") || len(sess.rcpts) != 2 {
		t.Fatalf("envelope: from=%q rcpts=%v", sess.from, sess.rcpts)
	}

	msg, err := mail.ReadMessage(strings.NewReader(sess.data))
	if err != nil {
		t.Fatalf("parse mail: %v", err)
	}
	subject, _ := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if subject != "Change detected: kabelwerk" {
		t.Errorf("subject: %q", subject)
	}
	mt, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/alternative" {
		t.Fatalf("content type: %q %v", mt, err)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var types []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(p)
		types = append(types, strings.SplitN(p.Header.Get("Content-Type"), ";", 2)[0])
		if !strings.Contains(string(body), "Top Floor Loft") {
			t.Errorf("part %s missing item", p.Header.Get("Content-Type"))
		}
	}
	if strings.Join(types, ",") != "text/plain,text/html" {
		t.Fatalf("parts: %v", types)
	}
}

func TestSMTP_Unreachable(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := &SMTP{Host: "127.0.0.1", Port: port, From: "a@b", To: []string{"c@d"}, Timeout: time.Second}
	err := s.Send(context.Background(), sampleEvent())
	if se, ok := err.(*SendError); !ok || se.Gateway != "smtp" {
		t.Fatalf("expected smtp SendError, got %v", err)
	}
}

func TestSMTP_NoRecipients(t *testing.T) {
	if err := (&SMTP{Host: "x"}).Send(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error without recipients")
	}
}
