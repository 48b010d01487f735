package page

import "fmt"

// Kind tags every page variant on disk and doubles as the record-kind
// discriminator for the record subtrees (node, path summary, text value,
// attribute value). The set is closed; codec dispatch is exhaustive.
type Kind uint8

const (
	KindUber           Kind = 0x01
	KindIndirect       Kind = 0x02
	KindRevisionRoot   Kind = 0x03
	KindName           Kind = 0x04
	KindPathSummary    Kind = 0x05
	KindCAS            Kind = 0x06
	KindPath           Kind = 0x07
	KindNode           Kind = 0x08
	KindTextValue      Kind = 0x09
	KindAttributeValue Kind = 0x0A
	KindDeletedRecord  Kind = 0x0B
)

func (k Kind) String() string {
	switch k {
	case KindUber:
		return "uber"
	case KindIndirect:
		return "indirect"
	case KindRevisionRoot:
		return "revisionRoot"
	case KindName:
		return "name"
	case KindPathSummary:
		return "pathSummary"
	case KindCAS:
		return "cas"
	case KindPath:
		return "path"
	case KindNode:
		return "node"
	case KindTextValue:
		return "textValue"
	case KindAttributeValue:
		return "attributeValue"
	case KindDeletedRecord:
		return "deletedRecord"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// IsRecordKind reports whether k names one of the record-page subtrees.
func (k Kind) IsRecordKind() bool {
	switch k {
	case KindNode, KindPathSummary, KindTextValue, KindAttributeValue:
		return true
	}
	return false
}
