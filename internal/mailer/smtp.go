package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"linkgate/backend/internal/config"
)

// SMTPMailer 通过 SMTP 中继投递验证码
type SMTPMailer struct {
	addr      string
	from      string
	username  string
	password  string
	timeout   time.Duration
	startTLS  bool
	tlsConfig *tls.Config
	localName string
}

// NewSMTPMailer 创建 SMTP 发信器
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		host = cfg.Addr
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPMailer{
		addr:      cfg.Addr,
		from:      cfg.From,
		username:  cfg.Username,
		password:  cfg.Password,
		timeout:   timeout,
		startTLS:  cfg.StartTLS,
		tlsConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		localName: "localhost",
	}
}

// SendVerificationCode 投递验证码邮件，连接与每个命令都受 ctx 与超时约束
func (m *SMTPMailer) SendVerificationCode(ctx context.Context, msg VerificationMessage) error {
	body, err := buildMessage(m.from, msg, time.Now())
	if err != nil {
		return err
	}
	sender, err := mail.ParseAddress(m.from)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("dial smtp relay: %w", err)
	}
	// 客户端每条命令都会重置连接期限，取消与超时统一靠关闭连接生效
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := m.open(conn)
	if err != nil {
		return err
	}
	defer c.Close()

	if m.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", m.username, m.password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.SendMail(sender.Address, []string{msg.To}, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return c.Quit()
}

// open 完成握手；要求 STARTTLS 时中继必须支持，否则不发信
func (m *SMTPMailer) open(conn net.Conn) (*gosmtp.Client, error) {
	if m.startTLS {
		c, err := gosmtp.NewClientStartTLS(conn, m.tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
		return c, nil
	}
	c := gosmtp.NewClient(conn)
	if err := c.Hello(m.localName); err != nil {
		c.Close()
		return nil, fmt.Errorf("smtp hello: %w", err)
	}
	return c, nil
}
