package ptqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/wharfq/wharf/internal/storage/pebble"
	"github.com/wharfq/wharf/pkg/id"
)

// MessageStore is the durable message store this engine consumes; it is an
// external collaborator whose interface we define but whose implementation
// (and on-disk layout) is the store's own concern.
type MessageStore interface {
	AddMessage(ctx context.Context, msg *Message) error
	RemoveMessage(ctx context.Context, msgID id.ID) error
	RemoveAllMessages(ctx context.Context) error
	GetMessage(ctx context.Context, msgID id.ID) (*Message, error)
	// Recover replays durable messages on startup; listener is invoked once
	// per recovered message in storage order.
	Recover(ctx context.Context, listener func(*Message) error) error
	// SetUsageManager wires the store to the same accountant the queue uses,
	// so the store may spill/flush when memory pressure rises.
	SetUsageManager(u UsageAccountant)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// messageHeader is the JSON-encoded portion of a stored record; payload is
// framed separately to avoid a base64 round-trip through JSON.
type messageHeader struct {
	ID              id.ID             `json:"id"`
	Destination     string            `json:"destination"`
	Headers         map[string]string `json:"headers,omitempty"`
	Persistent      bool              `json:"persistent"`
	ExpirationMs    int64             `json:"expirationMs,omitempty"`
	GroupID         string            `json:"groupId,omitempty"`
	TxID            string            `json:"txId,omitempty"`
	RedeliveryCount int32             `json:"redeliveryCount,omitempty"`
	Region          string            `json:"region,omitempty"`
}

// encodeMessage serializes a message as headerLen(4B BE) | header | payload | crc32c(header|payload).
func encodeMessage(msg *Message) ([]byte, error) {
	h := messageHeader{
		ID:              msg.ID,
		Destination:     msg.Destination,
		Headers:         msg.Headers,
		Persistent:      msg.Persistent,
		ExpirationMs:    msg.ExpirationMs,
		GroupID:         msg.GroupID,
		TxID:            msg.TxID,
		RedeliveryCount: msg.RedeliveryCount,
		Region:          msg.Region,
	}
	hb, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(hb)+len(msg.Payload)+4)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(hb)))
	out = append(out, lb[:]...)
	out = append(out, hb...)
	out = append(out, msg.Payload...)
	crc := crc32.Update(0, castagnoli, hb)
	crc = crc32.Update(crc, castagnoli, msg.Payload)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	out = append(out, cb[:]...)
	return out, nil
}

var errCorruptRecord = errors.New("ptqueue: corrupt stored record")

func decodeMessage(b []byte) (*Message, error) {
	if len(b) < 8 {
		return nil, errCorruptRecord
	}
	hlen := binary.BigEndian.Uint32(b[:4])
	if int(4+hlen+4) > len(b) {
		return nil, errCorruptRecord
	}
	headerEnd := 4 + int(hlen)
	hb := b[4:headerEnd]
	payload := b[headerEnd : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, hb)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return nil, errCorruptRecord
	}
	var h messageHeader
	if err := json.Unmarshal(hb, &h); err != nil {
		return nil, err
	}
	return &Message{
		ID:              h.ID,
		Destination:     h.Destination,
		Payload:         append([]byte(nil), payload...),
		Headers:         h.Headers,
		Persistent:      h.Persistent,
		ExpirationMs:    h.ExpirationMs,
		GroupID:         h.GroupID,
		TxID:            h.TxID,
		RedeliveryCount: h.RedeliveryCount,
		Region:          h.Region,
	}, nil
}

// PebbleMessageStore is the durable MessageStore backed by the shared Pebble
// instance, scoped to a namespace/destination key prefix.
type PebbleMessageStore struct {
	db          *pebblestore.DB
	namespace   string
	destination string
	usage       UsageAccountant
}

// NewPebbleMessageStore opens a durable store for the given destination.
func NewPebbleMessageStore(db *pebblestore.DB, namespace, destination string) *PebbleMessageStore {
	return &PebbleMessageStore{db: db, namespace: namespace, destination: destination}
}

// AddMessage durably appends a message.
func (s *PebbleMessageStore) AddMessage(ctx context.Context, msg *Message) error {
	rec, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return s.db.Set(msgKey(s.namespace, s.destination, msg.ID), rec)
}

// RemoveMessage durably deletes a single message by id.
func (s *PebbleMessageStore) RemoveMessage(ctx context.Context, msgID id.ID) error {
	return s.db.Delete(msgKey(s.namespace, s.destination, msgID))
}

// RemoveAllMessages destroys every durable message for this destination.
func (s *PebbleMessageStore) RemoveAllMessages(ctx context.Context) error {
	start, end := keyRange(msgPrefix(s.namespace, s.destination))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return err
	}
	defer iter.Close()
	b := s.db.NewBatch()
	defer b.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// GetMessage loads a single message body by id.
func (s *PebbleMessageStore) GetMessage(ctx context.Context, msgID id.ID) (*Message, error) {
	b, err := s.db.Get(msgKey(s.namespace, s.destination, msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeMessage(b)
}

// Recover replays every durable message in key order.
func (s *PebbleMessageStore) Recover(ctx context.Context, listener func(*Message) error) error {
	start, end := keyRange(msgPrefix(s.namespace, s.destination))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		msg, err := decodeMessage(iter.Value())
		if err != nil {
			continue // LoadFailure: skip the corrupt entry, keep recovering
		}
		if err := listener(msg); err != nil {
			return err
		}
	}
	return nil
}

// SetUsageManager wires the store to the queue's accountant.
func (s *PebbleMessageStore) SetUsageManager(u UsageAccountant) { s.usage = u }
