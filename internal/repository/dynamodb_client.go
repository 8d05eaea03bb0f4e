package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	skThread  = "THREAD"
	skSession = "SESSION"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps session mappings in a single-table layout
// (PK=SESSION#<id>, SK=THREAD) with a ttl attribute for table-level expiry.
// Each mapping also gets a reverse item (PK=THREAD#<id>, SK=SESSION).
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func (s *DynamoStore) key(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionKey(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skThread},
	}
}

// Get returns the stored thread id. DynamoDB deletes expired items lazily,
// so an item whose ttl has passed is reported as ErrNotFound.
func (s *DynamoStore) Get(ctx context.Context, sessionID string) (string, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", ErrNotFound
	}
	return s.liveThreadID(out.Item)
}

// PutIfAbsent writes the mapping with a condition that fails when a live item
// already exists. On conflict the winner's thread id is read back.
func (s *DynamoStore) PutIfAbsent(ctx context.Context, sessionID, threadID string) (string, bool, error) {
	now := s.now()
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: sessionKey(sessionID)},
			"SK":        &types.AttributeValueMemberS{Value: skThread},
			"sessionId": &types.AttributeValueMemberS{Value: sessionID},
			"threadId":  &types.AttributeValueMemberS{Value: threadID},
			"createdAt": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)},
		},
		ConditionExpression:      aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		if err := s.putReverse(ctx, sessionID, threadID, now); err != nil {
			return "", false, err
		}
		return threadID, true, nil
	}

	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return "", false, fmt.Errorf("repository: PutIfAbsent: %w", err)
	}
	existing, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", false, fmt.Errorf("repository: PutIfAbsent read winner: %w", err)
	}
	return existing, false, nil
}

// Delete removes the mapping and reports whether a live one existed.
func (s *DynamoStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	out, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          s.key(sessionID),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("repository: Delete: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return false, nil
	}
	if _, err := s.liveThreadID(out.Attributes); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *DynamoStore) putReverse(ctx context.Context, sessionID, threadID string, now time.Time) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: threadKey(threadID)},
			"SK":        &types.AttributeValueMemberS{Value: skSession},
			"sessionId": &types.AttributeValueMemberS{Value: sessionID},
			"threadId":  &types.AttributeValueMemberS{Value: threadID},
			"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttl).Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutIfAbsent reverse item: %w", err)
	}
	return nil
}

// DeleteByThread removes the reverse item and then the session item, the
// latter only while it still holds threadID.
func (s *DynamoStore) DeleteByThread(ctx context.Context, threadID string) (string, error) {
	reverseKey := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: threadKey(threadID)},
		"SK": &types.AttributeValueMemberS{Value: skSession},
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            reverseKey,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("repository: DeleteByThread: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", nil
	}
	sessionID, err := strAttr(out.Item, "sessionId")
	if err != nil {
		return "", err
	}

	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       reverseKey,
	}); err != nil {
		return "", fmt.Errorf("repository: DeleteByThread reverse item: %w", err)
	}

	del, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(sessionID),
		ConditionExpression: aws.String("threadId = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tid": &types.AttributeValueMemberS{Value: threadID},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repository: DeleteByThread session item: %w", err)
	}
	if del == nil || len(del.Attributes) == 0 {
		return "", nil
	}
	if _, err := s.liveThreadID(del.Attributes); err != nil {
		return "", nil
	}
	return sessionID, nil
}

func (s *DynamoStore) liveThreadID(item map[string]types.AttributeValue) (string, error) {
	if expires, err := int64Attr(item, "ttl"); err == nil && expires < s.now().Unix() {
		return "", ErrNotFound
	}
	threadID, err := strAttr(item, "threadId")
	if err != nil {
		return "", err
	}
	if threadID == "" {
		return "", ErrNotFound
	}
	return threadID, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
