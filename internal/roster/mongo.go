package roster

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository persists the roster in MongoDB using the collection and
// field names of the original deployment (students.rollNumber, ...).
type MongoRepository struct {
	db  *mongo.Database
	now func() time.Time
}

// NewMongoRepository creates a repo over db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *MongoRepository) students() *mongo.Collection     { return r.db.Collection("students") }
func (r *MongoRepository) invigilators() *mongo.Collection { return r.db.Collection("invigilators") }
func (r *MongoRepository) attempts() *mongo.Collection     { return r.db.Collection("verification_attempts") }

// Migrate creates the unique indexes the SQL schema declares.
func (r *MongoRepository) Migrate(ctx context.Context) error {
	if _, err := r.students().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "rollNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "department", Value: 1}, {Key: "room", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := r.invigilators().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := r.attempts().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "requestId", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	return err
}

// Ping checks connectivity.
func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

// MarkVerified sets isVerified with FindOneAndUpdate and returns the updated
// document, or nil when the roll number is unknown.
func (r *MongoRepository) MarkVerified(ctx context.Context, rollNumber string) (*Student, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "isVerified", Value: true},
			{Key: "verifiedAt", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$verifiedAt", r.now()}}}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var s Student
	err := r.students().FindOneAndUpdate(ctx, bson.D{{Key: "rollNumber", Value: rollNumber}}, update, opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindStudent returns a single student by roll number.
func (r *MongoRepository) FindStudent(ctx context.Context, rollNumber string) (*Student, error) {
	var s Student
	err := r.students().FindOne(ctx, bson.D{{Key: "rollNumber", Value: rollNumber}}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStudents returns students matching the non-empty filter fields.
func (r *MongoRepository) ListStudents(ctx context.Context, filter Filter) ([]Student, error) {
	query := bson.D{}
	if filter.Department != "" {
		query = append(query, bson.E{Key: "department", Value: filter.Department})
	}
	if filter.Room != "" {
		query = append(query, bson.E{Key: "room", Value: filter.Room})
	}
	cur, err := r.students().Find(ctx, query, options.Find().SetSort(bson.D{{Key: "rollNumber", Value: 1}}))
	if err != nil {
		return nil, err
	}
	res := []Student{}
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// UpsertStudent creates a student or updates its profile fields.
func (r *MongoRepository) UpsertStudent(ctx context.Context, s Student) (Student, error) {
	if s.RollNumber == "" {
		return Student{}, errors.New("roll number required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now()
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "name", Value: s.Name},
			{Key: "department", Value: s.Department},
			{Key: "room", Value: s.Room},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "_id", Value: s.ID},
			{Key: "isVerified", Value: false},
			{Key: "createdAt", Value: s.CreatedAt},
		}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var saved Student
	if err := r.students().FindOneAndUpdate(ctx, bson.D{{Key: "rollNumber", Value: s.RollNumber}}, update, opts).Decode(&saved); err != nil {
		return Student{}, err
	}
	return saved, nil
}

// FindInvigilator returns the invigilator with the given username, or nil.
func (r *MongoRepository) FindInvigilator(ctx context.Context, username string) (*Invigilator, error) {
	var inv Invigilator
	err := r.invigilators().FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&inv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreateInvigilator stores an invigilator, replacing the password hash when
// the username already exists.
func (r *MongoRepository) CreateInvigilator(ctx context.Context, username, passwordHash string) (Invigilator, error) {
	if username == "" || passwordHash == "" {
		return Invigilator{}, errors.New("username and password hash required")
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "passwordHash", Value: passwordHash}}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "_id", Value: uuid.NewString()},
			{Key: "createdAt", Value: r.now()},
		}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var inv Invigilator
	if err := r.invigilators().FindOneAndUpdate(ctx, bson.D{{Key: "username", Value: username}}, update, opts).Decode(&inv); err != nil {
		return Invigilator{}, err
	}
	return inv, nil
}

// RecordAttempt writes an audit document once per request id.
func (r *MongoRepository) RecordAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	if a.RequestID == "" {
		return Attempt{}, errors.New("request id required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	if a.CompletedAt.IsZero() {
		a.CompletedAt = a.CreatedAt
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = a.CompletedAt
	}
	_, err := r.attempts().InsertOne(ctx, a)
	if mongo.IsDuplicateKeyError(err) {
		return a, nil
	}
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// ListAttempts returns recent attempts, newest first.
func (r *MongoRepository) ListAttempts(ctx context.Context, rollNumber string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := bson.D{}
	if rollNumber != "" {
		query = append(query, bson.E{Key: "rollNumber", Value: rollNumber})
	}
	opts := options.Find().SetSort(bson.D{{Key: "completedAt", Value: -1}}).SetLimit(int64(limit))
	cur, err := r.attempts().Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var res []Attempt
	if err := cur.All(ctx, &res); err != nil {
		return nil, err
	}
	return res, nil
}

var _ Store = (*MongoRepository)(nil)
