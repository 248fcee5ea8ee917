package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JiHungLin/skalds/pkg/log"
	"github.com/JiHungLin/skalds/pkg/types"
)

const queryTimeout = 10 * time.Second

// MongoStore is the MongoDB-backed implementation of Store
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongo dials MongoDB and returns a store over the tasks collection
func ConnectMongo(uri, dbName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	storageLogger := log.WithComponent("storage")
	storageLogger.Info().Str("db", dbName).Msg("Connected to MongoDB")

	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection("tasks"),
	}, nil
}

// EnsureIndexes creates the unique id index and the monitor/dispatcher
// compound index
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	unique := true
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: &options.IndexOptions{Unique: &unique},
		},
		{
			Keys: bson.D{{Key: "executor", Value: 1}, {Key: "lifecycleStatus", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}
	return nil
}

// CreateTask inserts a new task document
func (s *MongoStore) CreateTask(ctx context.Context, task *types.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.collection.InsertOne(ctx, task)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrTaskExists
		}
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task by id
func (s *MongoStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var task types.Task
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasksByStatus returns all tasks whose lifecycle status is one of the
// given values
func (s *MongoStore) ListTasksByStatus(ctx context.Context, statuses ...types.TaskLifecycleStatus) ([]*types.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{
		"lifecycleStatus": bson.M{"$in": statuses},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []*types.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// ListUnassignedTasks returns Created Passive tasks with no executor,
// ordered by priority descending then creation time ascending
func (s *MongoStore) ListUnassignedTasks(ctx context.Context) ([]*types.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"$or":             bson.A{bson.M{"executor": nil}, bson.M{"executor": ""}, bson.M{"executor": bson.M{"$exists": false}}},
		"lifecycleStatus": types.TaskStatusCreated,
		"mode":            types.TaskModePassive,
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "createDateTime", Value: 1},
	})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list unassigned tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []*types.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus writes the lifecycle status only when it differs from the
// persisted value, so monitors do not clobber concurrent transitions
func (s *MongoStore) UpdateTaskStatus(ctx context.Context, id string, status types.TaskLifecycleStatus) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"id": id, "lifecycleStatus": bson.M{"$ne": status}},
		bson.M{"$set": bson.M{
			"lifecycleStatus": status,
			"updateDateTime":  types.NowMs(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s status: %w", id, err)
	}
	return nil
}

// UpdateTaskExecutor points a task at a node and moves it from one status to
// another. The write is conditional on the status the caller observed, so an
// assignment started from a stale snapshot cannot clobber a task another
// agent has already advanced.
func (s *MongoStore) UpdateTaskExecutor(ctx context.Context, id, executor string, from, to types.TaskLifecycleStatus) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"id": id, "lifecycleStatus": from},
		bson.M{"$set": bson.M{
			"executor":        executor,
			"lifecycleStatus": to,
			"updateDateTime":  types.NowMs(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s executor: %w", id, err)
	}
	if result.MatchedCount == 0 {
		// Either the task is gone or its status moved under us
		if _, getErr := s.GetTask(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}
	return nil
}

// UpdateTaskAttachments replaces the attachment payload of a task
func (s *MongoStore) UpdateTaskAttachments(ctx context.Context, id string, attachments map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"attachments":    attachments,
			"updateDateTime": types.NowMs(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s attachments: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task document
func (s *MongoStore) DeleteTask(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.collection.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// Close disconnects from MongoDB
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
