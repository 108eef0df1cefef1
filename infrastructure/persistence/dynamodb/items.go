package dynamodb

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/alishams21/lineagentic-kg/domain/graph"
)

// Single-table layout. Every record of one entity lives in its partition:
//
//	PK=ENTITY#<urn>  SK=#META                      the node itself
//	PK=ENTITY#<urn>  SK=HEAD#<aspect>              versioned head token
//	PK=ENTITY#<urn>  SK=ASPECT#<aspect>#V#<ver>    one versioned record
//	PK=ENTITY#<urn>  SK=ASPECT#<aspect>#T#<ts>#<id> one time-series record
//	PK=ENTITY#<urn>  SK=EDGE#<type>#<dst>[#<disc>] one outgoing edge
//
// GSI1 indexes nodes by type (GSI1PK=TYPE#<entityType>); GSI2 is the
// reverse adjacency list (GSI2PK=ENTITY#<dst>) for incoming-edge queries.
const (
	skMeta         = "#META"
	itemTypeEntity = "ENTITY"
	itemTypeHead   = "ASPECT_HEAD"
	itemTypeAspect = "ASPECT"
	itemTypeEdge   = "EDGE"

	gsiByType    = "GSI1"
	gsiByDstEdge = "GSI2"
)

func pkEntity(urn string) string {
	return "ENTITY#" + urn
}

func skHead(aspectName string) string {
	return "HEAD#" + aspectName
}

func skVersioned(aspectName string, version int) string {
	return fmt.Sprintf("ASPECT#%s#V#%010d", aspectName, version)
}

func skTimeseries(aspectName string, timestampMs int64, recordID string) string {
	return fmt.Sprintf("ASPECT#%s#T#%013d#%s", aspectName, timestampMs, recordID)
}

func skTimeseriesPrefix(aspectName string) string {
	return fmt.Sprintf("ASPECT#%s#T#", aspectName)
}

func skAspectPrefix(aspectName string) string {
	return fmt.Sprintf("ASPECT#%s#", aspectName)
}

func skEdge(edgeType, dstURN, discriminatorKey string) string {
	sk := fmt.Sprintf("EDGE#%s#%s", edgeType, dstURN)
	if discriminatorKey != "" {
		sk += "#" + discriminatorKey
	}
	return sk
}

type entityItem struct {
	PK         string                 `dynamodbav:"PK"`
	SK         string                 `dynamodbav:"SK"`
	GSI1PK     string                 `dynamodbav:"GSI1PK"`
	GSI1SK     string                 `dynamodbav:"GSI1SK"`
	ItemType   string                 `dynamodbav:"ItemType"`
	EntityType string                 `dynamodbav:"EntityType"`
	URN        string                 `dynamodbav:"URN"`
	Params     map[string]interface{} `dynamodbav:"Params,omitempty"`
	CreatedAt  string                 `dynamodbav:"CreatedAt"`
	UpdatedAt  string                 `dynamodbav:"UpdatedAt"`
}

type headItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	ItemType   string `dynamodbav:"ItemType"`
	URN        string `dynamodbav:"URN"`
	AspectName string `dynamodbav:"AspectName"`
	MaxVersion int    `dynamodbav:"MaxVersion"`
}

type aspectItem struct {
	PK          string                 `dynamodbav:"PK"`
	SK          string                 `dynamodbav:"SK"`
	ItemType    string                 `dynamodbav:"ItemType"`
	URN         string                 `dynamodbav:"URN"`
	OwnerType   string                 `dynamodbav:"OwnerType"`
	AspectName  string                 `dynamodbav:"AspectName"`
	Kind        string                 `dynamodbav:"Kind"`
	Version     int                    `dynamodbav:"Version,omitempty"`
	TimestampMs int64                  `dynamodbav:"TimestampMs,omitempty"`
	Latest      bool                   `dynamodbav:"Latest"`
	Payload     map[string]interface{} `dynamodbav:"Payload"`
	CreatedAt   string                 `dynamodbav:"CreatedAt"`
}

type edgeItem struct {
	PK               string                 `dynamodbav:"PK"`
	SK               string                 `dynamodbav:"SK"`
	GSI2PK           string                 `dynamodbav:"GSI2PK"`
	GSI2SK           string                 `dynamodbav:"GSI2SK"`
	ItemType         string                 `dynamodbav:"ItemType"`
	EdgeType         string                 `dynamodbav:"EdgeType"`
	SrcType          string                 `dynamodbav:"SrcType,omitempty"`
	SrcURN           string                 `dynamodbav:"SrcURN"`
	DstType          string                 `dynamodbav:"DstType,omitempty"`
	DstURN           string                 `dynamodbav:"DstURN"`
	Properties       map[string]interface{} `dynamodbav:"Properties,omitempty"`
	Discriminators   []string               `dynamodbav:"Discriminators,omitempty"`
	DiscriminatorKey string                 `dynamodbav:"DiscriminatorKey,omitempty"`
	Via              string                 `dynamodbav:"Via,omitempty"`
	CreatedAt        string                 `dynamodbav:"CreatedAt"`
}

func newEntityItem(entity *graph.Entity) entityItem {
	return entityItem{
		PK:         pkEntity(entity.URN),
		SK:         skMeta,
		GSI1PK:     "TYPE#" + entity.Type,
		GSI1SK:     entity.URN,
		ItemType:   itemTypeEntity,
		EntityType: entity.Type,
		URN:        entity.URN,
		Params:     entity.Params,
		CreatedAt:  entity.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  entity.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (i entityItem) toEntity() *graph.Entity {
	created, _ := time.Parse(time.RFC3339Nano, i.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, i.UpdatedAt)
	return &graph.Entity{
		Type:      i.EntityType,
		URN:       i.URN,
		Params:    i.Params,
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

func newAspectItem(record *graph.AspectRecord, recordID string) aspectItem {
	item := aspectItem{
		PK:          pkEntity(record.OwnerURN),
		ItemType:    itemTypeAspect,
		URN:         record.OwnerURN,
		OwnerType:   record.OwnerType,
		AspectName:  record.Name,
		Kind:        string(record.Kind),
		Version:     record.Version,
		TimestampMs: record.TimestampMs,
		Latest:      record.Latest,
		Payload:     record.Payload,
		CreatedAt:   record.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if record.Kind == graph.KindTimeseries {
		item.SK = skTimeseries(record.Name, record.TimestampMs, recordID)
	} else {
		item.SK = skVersioned(record.Name, record.Version)
	}
	return item
}

func (i aspectItem) toRecord() *graph.AspectRecord {
	created, _ := time.Parse(time.RFC3339Nano, i.CreatedAt)
	return &graph.AspectRecord{
		OwnerURN:    i.URN,
		OwnerType:   i.OwnerType,
		Name:        i.AspectName,
		Kind:        graph.AspectKind(i.Kind),
		Version:     i.Version,
		TimestampMs: i.TimestampMs,
		Latest:      i.Latest,
		Payload:     i.Payload,
		CreatedAt:   created,
	}
}

func newEdgeItem(edge *graph.Edge) edgeItem {
	disc := edge.DiscriminatorKey()
	return edgeItem{
		PK:               pkEntity(edge.SrcURN),
		SK:               skEdge(edge.Type, edge.DstURN, disc),
		GSI2PK:           pkEntity(edge.DstURN),
		GSI2SK:           skEdge(edge.Type, edge.SrcURN, disc),
		ItemType:         itemTypeEdge,
		EdgeType:         edge.Type,
		SrcType:          edge.SrcType,
		SrcURN:           edge.SrcURN,
		DstType:          edge.DstType,
		DstURN:           edge.DstURN,
		Properties:       edge.Properties,
		Discriminators:   edge.Discriminators,
		DiscriminatorKey: disc,
		Via:              edge.Via,
		CreatedAt:        edge.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (i edgeItem) toEdge() *graph.Edge {
	created, _ := time.Parse(time.RFC3339Nano, i.CreatedAt)
	return &graph.Edge{
		SrcType:        i.SrcType,
		SrcURN:         i.SrcURN,
		Type:           i.EdgeType,
		DstType:        i.DstType,
		DstURN:         i.DstURN,
		Properties:     i.Properties,
		Discriminators: i.Discriminators,
		Via:            i.Via,
		CreatedAt:      created,
	}
}

func unmarshalItem(av map[string]types.AttributeValue, out interface{}) error {
	return attributevalue.UnmarshalMap(av, out)
}

func itemTypeOf(av map[string]types.AttributeValue) string {
	if v, ok := av["ItemType"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
