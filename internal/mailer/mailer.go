// Package mailer 负责把验证码交给外部邮件中继
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linkgate/backend/internal/logger"
)

// VerificationMessage 验证码邮件
type VerificationMessage struct {
	To       string
	Code     string
	LinkName string
	TTL      time.Duration
}

// Mailer 验证码投递
type Mailer interface {
	SendVerificationCode(ctx context.Context, msg VerificationMessage) error
}

// LogMailer 只记录日志不发信（开发环境）
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer 创建日志发信器
func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// SendVerificationCode 记录一次投递，验证码只在 debug 级别输出
func (m *LogMailer) SendVerificationCode(_ context.Context, msg VerificationMessage) error {
	m.log.Info("verification code dispatched",
		logger.Email("to", msg.To),
		zap.String("link", msg.LinkName),
		zap.Duration("ttl", msg.TTL),
	)
	m.log.Debug("verification code", logger.Email("to", msg.To), zap.String("code", msg.Code))
	return nil
}

// buildMessage 生成纯文本 RFC 5322 邮件
func buildMessage(from string, msg VerificationMessage, now time.Time) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	toAddr, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	name := strings.TrimSpace(msg.LinkName)
	if name == "" {
		name = "a shared document"
	}
	subject := mime.QEncoding.Encode("utf-8", fmt.Sprintf("Your access code for %s", name))

	domainPart := "linkgate.local"
	if at := strings.LastIndex(fromAddr.Address, "@"); at >= 0 {
		domainPart = fromAddr.Address[at+1:]
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	header("From", fromAddr.String())
	header("To", toAddr.String())
	header("Subject", subject)
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainPart))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")

	minutes := int(msg.TTL.Minutes())
	fmt.Fprintf(&buf, "Your verification code is: %s\r\n\r\n", msg.Code)
	fmt.Fprintf(&buf, "Enter this code to open %s. It expires in %d minutes.\r\n", name, minutes)
	buf.WriteString("If you did not request this code, you can ignore this email.\r\n")

	return buf.Bytes(), nil
}
