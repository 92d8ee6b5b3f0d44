package services

import (
	"context"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ViolationLogCollection is the Mongo collection holding the violation audit log.
const ViolationLogCollection = "violation_events"

// ViolationLog appends every committed violation to MongoDB. It is an
// EventSink: write failures are logged, never returned to the request.
type ViolationLog struct {
	coll *mongo.Collection
}

func NewViolationLog(db *mongo.Database) *ViolationLog {
	return &ViolationLog{coll: db.Collection(ViolationLogCollection)}
}

// EnsureIndexes creates the lookup indexes. Safe to call on every start.
func (l *ViolationLog) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "ip_address", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (l *ViolationLog) UserViolation(ctx context.Context, state *models.AbuseState, newEpisode, banned bool) {
	l.insert(ctx, UserViolationEvent(state, newEpisode, banned))
}

func (l *ViolationLog) IPViolation(ctx context.Context, v *models.RateLimitViolation) {
	l.insert(ctx, IPViolationEvent(v))
}

func (l *ViolationLog) insert(ctx context.Context, event models.ViolationEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := l.coll.InsertOne(ctx, event); err != nil {
		logrus.WithError(err).WithField("kind", event.Kind).Error("Failed to write violation log")
	}
}

// UserViolationEvent builds the log entry for a user violation.
func UserViolationEvent(state *models.AbuseState, newEpisode, banned bool) models.ViolationEvent {
	kind := models.ViolationKindInEpisode
	if newEpisode {
		kind = models.ViolationKindNewEpisode
	}
	return models.ViolationEvent{
		ID:            primitive.NewObjectID(),
		CreatedAt:     time.Now().UTC(),
		Kind:          kind,
		UserID:        state.UserID.String(),
		Points:        state.Points,
		Banned:        banned,
		InCount:       state.SensitiveCountInEpisode,
		CooldownUntil: state.CooldownUntil,
	}
}

// IPViolationEvent builds the log entry for an IP violation.
func IPViolationEvent(v *models.RateLimitViolation) models.ViolationEvent {
	event := models.ViolationEvent{
		ID:             primitive.NewObjectID(),
		CreatedAt:      time.Now().UTC(),
		Kind:           models.ViolationKindIP,
		IPAddress:      v.IPAddress,
		Endpoint:       string(v.Endpoint),
		ViolationCount: v.ViolationCount,
		CooldownUntil:  v.CooldownUntil,
	}
	if v.UserID != nil {
		event.UserID = v.UserID.String()
	}
	return event
}

// ViolationLogFilter narrows List.
type ViolationLogFilter struct {
	UserID    string
	IPAddress string
	Kind      models.ViolationKind
	Limit     int64
}

// Filter returns the Mongo query for f.
func (f ViolationLogFilter) Filter() bson.M {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.IPAddress != "" {
		filter["ip_address"] = f.IPAddress
	}
	if f.Kind != "" {
		filter["kind"] = f.Kind
	}
	return filter
}

// List returns the newest log entries matching f.
func (l *ViolationLog) List(ctx context.Context, f ViolationLogFilter) ([]models.ViolationEvent, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := l.coll.Find(ctx, f.Filter(), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	events := []models.ViolationEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CleanupOld removes entries older than the retention window.
func (l *ViolationLog) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	result, err := l.coll.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

// StartViolationLogCleanup prunes the log once an hour until ctx is done.
func (l *ViolationLog) StartViolationLogCleanup(ctx context.Context, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := l.CleanupOld(ctx, retention)
				if err != nil {
					logrus.WithError(err).Error("Violation log cleanup failed")
					continue
				}
				if n > 0 {
					logrus.WithField("deleted", n).Info("Violation log cleaned up")
				}
			}
		}
	}()
	logrus.Infof("✅ Violation log cleanup scheduled (retention %s)", retention)
}
