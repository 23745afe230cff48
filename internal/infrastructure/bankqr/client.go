package bankqr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	BankBIN       string
	AccountNo     string
	AccountName   string
	ImageBaseURL  string
	WebhookSecret string
	MaxSkew       time.Duration
}

type Client struct {
	BankBIN       string
	AccountNo     string
	AccountName   string
	ImageBaseURL  string
	WebhookSecret []byte
	MaxSkew       time.Duration
	Now           func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BankBIN) == "" || strings.TrimSpace(cfg.AccountNo) == "" {
		return nil, fmt.Errorf("bank qr config incomplete")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.ImageBaseURL), "/")
	if base == "" {
		base = "https://img.vietqr.io/image"
	}
	skew := cfg.MaxSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	return &Client{
		BankBIN:       cfg.BankBIN,
		AccountNo:     cfg.AccountNo,
		AccountName:   cfg.AccountName,
		ImageBaseURL:  base,
		WebhookSecret: []byte(cfg.WebhookSecret),
		MaxSkew:       skew,
		Now:           time.Now,
	}, nil
}

// Payload is what the customer scans: the receiving account, the exact
// amount and the order number as transfer memo.
type Payload struct {
	BankBIN     string          `json:"bankBin"`
	AccountNo   string          `json:"accountNo"`
	AccountName string          `json:"accountName"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo"`
	ImageURL    string          `json:"imageUrl"`
}

func (c *Client) Payload(memo string, amount decimal.Decimal) Payload {
	q := url.Values{}
	q.Set("amount", amount.StringFixed(0))
	q.Set("addInfo", memo)
	if c.AccountName != "" {
		q.Set("accountName", c.AccountName)
	}
	return Payload{
		BankBIN:     c.BankBIN,
		AccountNo:   c.AccountNo,
		AccountName: c.AccountName,
		Amount:      amount,
		Memo:        memo,
		ImageURL:    fmt.Sprintf("%s/%s-%s-compact2.png?%s", c.ImageBaseURL, c.BankBIN, c.AccountNo, q.Encode()),
	}
}

// Notification is the bank's credit notice for an incoming transfer.
type Notification struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	AccountNo     string          `json:"accountNo"`
	PaidAt        time.Time       `json:"paidAt"`
}

var orderNumberRe = regexp.MustCompile(`DS\d{6}[0-9A-F]{6}`)

// OrderNumber extracts the memo written by the customer. Banking apps often
// prepend or append their own text to the description.
func (n Notification) OrderNumber() string {
	return orderNumberRe.FindString(strings.ToUpper(n.Description))
}

func (c *Client) ParseNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return n, err
	}
	if strings.TrimSpace(n.TransactionID) == "" {
		return n, fmt.Errorf("transactionId required")
	}
	if n.AccountNo != "" && n.AccountNo != c.AccountNo {
		return n, fmt.Errorf("notification for foreign account")
	}
	return n, nil
}

func (c *Client) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, c.WebhookSecret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) VerifySignature(timestamp string, body []byte, signature string) error {
	if len(c.WebhookSecret) == 0 {
		return fmt.Errorf("webhook secret not configured")
	}
	if strings.TrimSpace(timestamp) == "" || strings.TrimSpace(signature) == "" {
		return fmt.Errorf("signature headers required")
	}
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp")
	}
	now := c.Now()
	if d := now.Sub(time.Unix(sec, 0)); d > c.MaxSkew || d < -c.MaxSkew {
		return fmt.Errorf("timestamp outside allowed window")
	}
	want, err := hex.DecodeString(c.Sign(timestamp, body))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return fmt.Errorf("invalid signature encoding")
	}
	if !hmac.Equal(want, got) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
