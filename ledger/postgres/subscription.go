package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cacaotrail/cacaotrail/ledger"
	"github.com/lib/pq"
)

// Default polling interval for subscriptions.
const defaultPollInterval = 100 * time.Millisecond

// Channel used by the append trigger to announce new records.
const notifyChannel = "cacaotrail_records"

// Ensure PostgresStore implements the subscription interface.
var _ ledger.SubscriptionStore = (*PostgresStore)(nil)

// EnableNotify installs a trigger that announces every inserted record
// on the cacaotrail_records channel. Subscriptions opened with a
// listener connection string wake on these notifications instead of
// waiting for the next poll tick.
func (s *PostgresStore) EnableNotify(ctx context.Context) error {
	fnSQL := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s.notify_record() RETURNS TRIGGER AS $$
		BEGIN
			PERFORM pg_notify('%s', NEW.global_position::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`, s.schema, notifyChannel)

	if _, err := s.db.ExecContext(ctx, fnSQL); err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to create notify function: %w", err)
	}

	triggerSQL := fmt.Sprintf(`
		DO $$ BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_trigger WHERE tgname = 'records_notify'
			) THEN
				CREATE TRIGGER records_notify
				AFTER INSERT ON %s.records
				FOR EACH ROW EXECUTE FUNCTION %s.notify_record();
			END IF;
		END $$`, s.schema, s.schema)

	if _, err := s.db.ExecContext(ctx, triggerSQL); err != nil {
		return fmt.Errorf("cacaotrail/postgres: failed to create notify trigger: %w", err)
	}

	return nil
}

// Listener wraps a pq.Listener on the record notification channel.
type Listener struct {
	pq *pq.Listener
}

// NewListener opens a dedicated LISTEN connection. The connection
// string must be a libpq-style DSN; pgx pool settings do not apply.
func NewListener(connStr string) (*Listener, error) {
	l := pq.NewListener(connStr, 10*time.Second, time.Minute, nil)
	if err := l.Listen(notifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("cacaotrail/postgres: failed to listen on %s: %w", notifyChannel, err)
	}
	return &Listener{pq: l}, nil
}

// Close tears down the LISTEN connection.
func (l *Listener) Close() error {
	return l.pq.Close()
}

// SubscribeAll subscribes to all records across all subjects, delivered
// in global order starting after fromPosition. Without a listener the
// store polls at the configured interval.
func (s *PostgresStore) SubscribeAll(ctx context.Context, fromPosition uint64, opts ...ledger.SubscriptionOptions) (<-chan ledger.Record, error) {
	return s.subscribeAll(ctx, fromPosition, nil, opts...)
}

// SubscribeAllNotified is SubscribeAll with LISTEN/NOTIFY wakeups: the
// poll loop runs on its interval but also wakes immediately when the
// listener reports an insert.
func (s *PostgresStore) SubscribeAllNotified(ctx context.Context, fromPosition uint64, listener *Listener, opts ...ledger.SubscriptionOptions) (<-chan ledger.Record, error) {
	return s.subscribeAll(ctx, fromPosition, listener, opts...)
}

func (s *PostgresStore) subscribeAll(ctx context.Context, fromPosition uint64, listener *Listener, opts ...ledger.SubscriptionOptions) (<-chan ledger.Record, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	bufferSize := 100
	pollInterval := defaultPollInterval
	if len(opts) > 0 {
		if opts[0].BufferSize > 0 {
			bufferSize = opts[0].BufferSize
		}
		if opts[0].PollInterval > 0 {
			pollInterval = opts[0].PollInterval
		}
	}

	var wakeup <-chan *pq.Notification
	if listener != nil {
		wakeup = listener.pq.Notify
	}

	ch := make(chan ledger.Record, bufferSize)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		currentPosition := fromPosition

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			records, err := s.LoadFromPosition(ctx, currentPosition, bufferSize)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					continue
				}
			}

			for _, rec := range records {
				select {
				case ch <- rec:
					currentPosition = rec.GlobalPosition
				case <-ctx.Done():
					return
				}
			}

			if len(records) == 0 {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				case <-wakeup:
				}
			}
		}
	}()

	return ch, nil
}

// SubscribeSubject subscribes to records of a single subject starting
// after fromSeq, polling the chain for new entries.
func (s *PostgresStore) SubscribeSubject(ctx context.Context, subjectID string, fromSeq int64) (<-chan ledger.Record, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	ch := make(chan ledger.Record, 100)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(defaultPollInterval)
		defer ticker.Stop()

		currentSeq := fromSeq

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			records, err := s.Load(ctx, subjectID, currentSeq)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					continue
				}
			}

			for _, rec := range records {
				select {
				case ch <- rec:
					currentSeq = rec.Seq
				case <-ctx.Done():
					return
				}
			}

			if len(records) == 0 {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}
	}()

	return ch, nil
}
