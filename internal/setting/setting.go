package setting

import (
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/qrpay/internal/slot"
)

// Stored keys. The names match what the admin console and monitor app write.
const (
	KeySecret        = "key"
	KeyCloseMinutes  = "close"
	KeyNotifyURL     = "notifyUrl"
	KeyReturnURL     = "returnUrl"
	KeyWechatQR      = "wxpay"
	KeyAlipayQR      = "zfbpay"
	KeyPerturbation  = "payQf"
	KeyMonitorState  = "jkstate"
	KeyLastHeartbeat = "lastheart"
	KeyLastPayment   = "lastpay"
)

const DefaultCloseMinutes = 5

// Editable lists keys an admin may change through the API. Monitor
// bookkeeping keys are written only by the gateway and sweeper.
var Editable = map[string]bool{
	KeySecret:       true,
	KeyCloseMinutes: true,
	KeyNotifyURL:    true,
	KeyReturnURL:    true,
	KeyWechatQR:     true,
	KeyAlipayQR:     true,
	KeyPerturbation: true,
}

// Defaults seeded on a fresh install.
var Defaults = map[string]string{
	KeySecret:        "",
	KeyCloseMinutes:  strconv.Itoa(DefaultCloseMinutes),
	KeyNotifyURL:     "",
	KeyReturnURL:     "",
	KeyWechatQR:      "",
	KeyAlipayQR:      "",
	KeyPerturbation:  "1",
	KeyMonitorState:  "0",
	KeyLastHeartbeat: "0",
	KeyLastPayment:   "0",
}

// Snapshot is the business configuration read once per request.
type Snapshot struct {
	Secret        string
	CloseMinutes  int
	NotifyURL     string
	ReturnURL     string
	WechatQR      string
	AlipayQR      string
	Perturbation  slot.Mode
	MonitorAlive  bool
	LastHeartbeat time.Time
	LastPayment   time.Time
}

func SnapshotFrom(values map[string]string) Snapshot {
	s := Snapshot{
		Secret:        values[KeySecret],
		CloseMinutes:  DefaultCloseMinutes,
		NotifyURL:     strings.TrimSpace(values[KeyNotifyURL]),
		ReturnURL:     strings.TrimSpace(values[KeyReturnURL]),
		WechatQR:      strings.TrimSpace(values[KeyWechatQR]),
		AlipayQR:      strings.TrimSpace(values[KeyAlipayQR]),
		Perturbation:  slot.ParseMode(values[KeyPerturbation]),
		MonitorAlive:  strings.TrimSpace(values[KeyMonitorState]) == "1",
		LastHeartbeat: parseUnix(values[KeyLastHeartbeat]),
		LastPayment:   parseUnix(values[KeyLastPayment]),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(values[KeyCloseMinutes])); err == nil && n > 0 {
		s.CloseMinutes = n
	}
	return s
}

// Timeout is how long an order may stay pending.
func (s Snapshot) Timeout() time.Duration {
	return time.Duration(s.CloseMinutes) * time.Minute
}

// StaticQR returns the shared QR for a payment type (1 wechat, 2 alipay).
func (s Snapshot) StaticQR(paymentType int) string {
	switch paymentType {
	case 1:
		return s.WechatQR
	case 2:
		return s.AlipayQR
	default:
		return ""
	}
}

// HeartbeatStale reports whether the monitor has been silent longer than
// timeout. A monitor that never reported is stale.
func (s Snapshot) HeartbeatStale(now time.Time, timeout time.Duration) bool {
	if s.LastHeartbeat.IsZero() {
		return true
	}
	return now.Sub(s.LastHeartbeat) > timeout
}

// HeartbeatBefore reports whether a stored lastheart value is older than
// cutoff. A missing or unparsable value counts as older.
func HeartbeatBefore(raw string, cutoff time.Time) bool {
	last := parseUnix(raw)
	return last.IsZero() || last.Before(cutoff)
}

func parseUnix(raw string) time.Time {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
