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

	"hn-stories/internal/domain"
)

const pkPrefixItem = "ITEM#"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// CachedItem is an item read back from the shared cache together with the
// moment it stops being valid.
type CachedItem struct {
	Item      domain.Item
	ExpiresAt time.Time
}

// Client stores fetched items in a DynamoDB table so Lambda instances can
// share them. The table is expected to have TTL enabled on the "ttl"
// attribute; expiry is also checked on read because DynamoDB deletes
// expired rows lazily.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func itemPK(id int) string {
	return pkPrefixItem + strconv.Itoa(id)
}

// GetItem returns the cached item, or nil when it is missing or expired.
func (c *Client) GetItem(ctx context.Context, id int) (*CachedItem, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: itemPK(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetItem %d: %w", id, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	ttl, err := int64Attr(out.Item, "ttl")
	if err != nil {
		return nil, fmt.Errorf("repository: GetItem %d decode ttl: %w", id, err)
	}
	expiresAt := time.Unix(ttl, 0)
	if !c.now().Before(expiresAt) {
		return nil, nil
	}

	item, err := attrsToItem(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetItem %d unmarshal: %w", id, err)
	}
	return &CachedItem{Item: item, ExpiresAt: expiresAt}, nil
}

// PutItem writes or replaces the cached copy of item, valid for ttl.
func (c *Client) PutItem(ctx context.Context, item domain.Item, ttl time.Duration) error {
	if item.ID <= 0 {
		return errors.New("repository: PutItem: item ID is required")
	}
	if ttl <= 0 {
		return errors.New("repository: PutItem: ttl must be positive")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      itemAttrs(item, c.now().Add(ttl)),
	})
	if err != nil {
		return fmt.Errorf("repository: PutItem %d: %w", item.ID, err)
	}
	return nil
}

func itemAttrs(item domain.Item, expiresAt time.Time) map[string]types.AttributeValue {
	attrs := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: itemPK(item.ID)},
		"id":          &types.AttributeValueMemberN{Value: strconv.Itoa(item.ID)},
		"time":        &types.AttributeValueMemberN{Value: strconv.FormatInt(item.Time, 10)},
		"score":       &types.AttributeValueMemberN{Value: strconv.Itoa(item.Score)},
		"descendants": &types.AttributeValueMemberN{Value: strconv.Itoa(item.Descendants)},
		"ttl":         &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)},
	}
	// Absent optional fields are omitted and read back as "".
	putStr := func(key, v string) {
		if v != "" {
			attrs[key] = &types.AttributeValueMemberS{Value: v}
		}
	}
	putStr("title", item.Title)
	putStr("url", item.URL)
	putStr("by", item.By)
	putStr("type", item.Type)
	return attrs
}

func attrsToItem(attrs map[string]types.AttributeValue) (domain.Item, error) {
	id, err := int64Attr(attrs, "id")
	if err != nil {
		return domain.Item{}, err
	}
	ts, err := int64Attr(attrs, "time")
	if err != nil {
		return domain.Item{}, err
	}
	score, _ := int64Attr(attrs, "score")             // allow missing
	descendants, _ := int64Attr(attrs, "descendants") // allow missing

	return domain.Item{
		ID:          int(id),
		Title:       optStrAttr(attrs, "title"),
		URL:         optStrAttr(attrs, "url"),
		By:          optStrAttr(attrs, "by"),
		Time:        ts,
		Score:       int(score),
		Descendants: int(descendants),
		Type:        optStrAttr(attrs, "type"),
	}, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	v, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
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
