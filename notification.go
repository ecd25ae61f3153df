package headlessterm

// NotificationPayload carries a parsed OSC 99 desktop notification request.
// Fields follow the kitty desktop notifications protocol: a notification is
// assembled from one or more OSC 99 writes (metadata key=value pairs before
// the first ';', payload bytes after), with PayloadType distinguishing a
// title chunk, a body chunk, a close request, or a capability query ("?").
type NotificationPayload struct {
	ID          string // i= identifier, scoped to the issuing client
	Done        bool   // d=0 means more chunks follow for this ID
	PayloadType string // p= one of "title", "body", "close", "?", ""
	Encoding    string // e= payload encoding, "1" means base64
	Actions     []string
	TrackClose  bool
	Timeout     int
	AppName     string // f=
	Type        string // t=
	IconName    string // n=
	IconCacheID string // g=
	Sound       string // s=
	Urgency     int    // u=
	Occasion    string // o=, when to show ("always", "unfocused", "invisible")
	Data        []byte
}

// NotificationProvider handles desktop notification requests (OSC 99).
// Notify returns a reply string to write back to the terminal; this is
// only meaningful for capability queries (PayloadType == "?") and should
// be "" otherwise.
type NotificationProvider interface {
	Notify(payload *NotificationPayload) string
}

// NoopNotification discards all notifications and never replies to queries.
type NoopNotification struct{}

func (NoopNotification) Notify(payload *NotificationPayload) string { return "" }

var _ NotificationProvider = (*NoopNotification)(nil)

// NotificationProvider returns the current desktop notification provider.
func (t *Terminal) NotificationProvider() NotificationProvider {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.notificationProvider
}

// SetNotificationProvider sets the desktop notification provider at runtime.
func (t *Terminal) SetNotificationProvider(p NotificationProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notificationProvider = p
}

// DesktopNotification processes an OSC 99 desktop notification request.
func (t *Terminal) DesktopNotification(payload *NotificationPayload) {
	if t.middleware != nil && t.middleware.DesktopNotification != nil {
		t.middleware.DesktopNotification(payload, t.desktopNotificationInternal)
		return
	}
	t.desktopNotificationInternal(payload)
}

func (t *Terminal) desktopNotificationInternal(payload *NotificationPayload) {
	t.mu.RLock()
	provider := t.notificationProvider
	t.mu.RUnlock()

	if provider == nil {
		return
	}

	reply := provider.Notify(payload)
	if payload.PayloadType == "?" && reply != "" {
		t.writeResponseString(reply)
	}
}
