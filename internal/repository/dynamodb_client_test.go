package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"hn-stories/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

var fixedNow = time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func makeRow(id int, title string, expiresAt time.Time) map[string]types.AttributeValue {
	return itemAttrs(domain.Item{
		ID:          id,
		Title:       title,
		URL:         "https://example.com/" + strconv.Itoa(id),
		By:          "alice",
		Time:        1609459200,
		Score:       10,
		Descendants: 3,
		Type:        "story",
	}, expiresAt)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestGetItem_HappyPath(t *testing.T) {
	expires := fixedNow.Add(5 * time.Minute)
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeRow(42, "Hello", expires)}}
	c := mustNewClient(t, db)

	got, err := c.GetItem(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 42, got.Item.ID)
	require.Equal(t, "Hello", got.Item.Title)
	require.Equal(t, "alice", got.Item.By)
	require.Equal(t, 3, got.Item.Descendants)
	require.Equal(t, expires.Unix(), got.ExpiresAt.Unix())

	pk := db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value
	require.Equal(t, "ITEM#42", pk)
	require.Equal(t, "test-table", *db.lastGetInput.TableName)
}

func TestGetItem_Missing(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	got, err := c.GetItem(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetItem_ExpiredRowIsMiss(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeRow(1, "Old", fixedNow.Add(-time.Second))}}
	c := mustNewClient(t, db)
	got, err := c.GetItem(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetItem_UntitledRoundTrips(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeRow(7, "", fixedNow.Add(time.Minute))}}
	c := mustNewClient(t, db)
	got, err := c.GetItem(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.Item.HasTitle())
}

func TestGetItem_APIError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("ProvisionedThroughputExceededException")})
	_, err := c.GetItem(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetItem")
}

func TestGetItem_MalformedTTL(t *testing.T) {
	row := makeRow(1, "x", fixedNow.Add(time.Minute))
	row["ttl"] = &types.AttributeValueMemberS{Value: "soon"}
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: row}})
	_, err := c.GetItem(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode ttl")
}

func TestGetItem_MissingID(t *testing.T) {
	row := makeRow(1, "x", fixedNow.Add(time.Minute))
	delete(row, "id")
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: row}})
	_, err := c.GetItem(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"id"`)
}

func TestPutItem_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.PutItem(context.Background(), domain.Item{ID: 9, Title: "T", Time: 100, Score: 1}, 10*time.Minute)
	require.NoError(t, err)

	in := db.lastPutInput
	require.Equal(t, "test-table", *in.TableName)
	require.Equal(t, "ITEM#9", in.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "T", in.Item["title"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, strconv.FormatInt(fixedNow.Add(10*time.Minute).Unix(), 10), in.Item["ttl"].(*types.AttributeValueMemberN).Value)
	_, hasURL := in.Item["url"]
	require.False(t, hasURL)
}

func TestPutItem_Validates(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.PutItem(context.Background(), domain.Item{}, time.Minute))
	require.Error(t, c.PutItem(context.Background(), domain.Item{ID: 1}, 0))
}

func TestPutItem_APIError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("boom")})
	err := c.PutItem(context.Background(), domain.Item{ID: 1}, time.Minute)
	require.ErrorContains(t, err, "boom")
}
