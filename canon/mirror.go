package canon

import (
	"sync"
)

type MirrorChangeCallback func(document Value, cursor *Cursor)

// A consumer-side copy of the subscribed document, reconciled from snapshots and updates.
//
// Patches apply against the document from the most recent snapshot at the subscribed path.
// There is no gap detection: after a reconnect the server resends a snapshot,
// which replaces whatever the mirror holds.
// Safe for concurrent use.
type StateMirror struct {
	stateLock sync.Mutex
	path      string
	document  Value
	cursor    *Cursor
	// false until the first snapshot
	ready bool

	onChange MirrorChangeCallback
	log      LogFunction
}

func NewStateMirror() *StateMirror {
	return NewStateMirrorWithCallback(nil)
}

// `onChange` is called after each applied message that changed the document,
// outside of the mirror lock
func NewStateMirrorWithCallback(onChange MirrorChangeCallback) *StateMirror {
	return &StateMirror{
		onChange: onChange,
		log:      LogFn(LogLevelInfo, "mirror"),
	}
}

// A failed patch leaves the document unchanged and returns the error.
func (self *StateMirror) Apply(message StateMessage) error {
	changed, document, cursor, err := self.apply(message)
	if err != nil {
		return err
	}
	if changed && self.onChange != nil {
		HandleError(func() {
			self.onChange(document, cursor)
		})
	}
	return nil
}

func (self *StateMirror) apply(message StateMessage) (changed bool, document Value, cursor *Cursor, err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	nextCursor := message.MessageCursor()
	if nextCursor != nil && CursorLessThan(nextCursor, self.cursor) {
		// the server upholds ordering; note it and continue
		self.log("cursor moved back %s -> %s", self.cursor, nextCursor)
	}

	switch v := message.(type) {
	case *SnapshotMessage:
		self.path = v.Path
		self.document = v.Value
		self.ready = true
		changed = true
	case *UpdateMessage:
		if v.Snapshot != nil {
			self.document = *v.Snapshot
			self.ready = true
			changed = true
		} else if v.Patch != nil {
			var nextDocument Value
			nextDocument, err = ApplyPatch(self.document, v.Patch)
			if err != nil {
				return
			}
			self.document = nextDocument
			changed = true
		}
		// heartbeat: only the cursor advances
	}

	if nextCursor != nil {
		c := *nextCursor
		self.cursor = &c
	}
	document = self.document
	cursor = self.cursor
	return
}

// The returned value is shared with the mirror; treat it as read only or `Clone` it.
func (self *StateMirror) Document() Value {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.document
}

func (self *StateMirror) Cursor() *Cursor {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.cursor == nil {
		return nil
	}
	c := *self.cursor
	return &c
}

// the path of the last snapshot
func (self *StateMirror) Path() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.path
}

// true once a snapshot has been applied
func (self *StateMirror) Ready() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.ready
}

func (self *StateMirror) Select(path string) (Value, bool, error) {
	return Select(self.Document(), path)
}
