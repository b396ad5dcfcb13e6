package storage

import "fmt"

// Key layout:
//
//	conv:{conversation_id}                             conversation record
//	direct:{len(min_user)}:{min_user}:{max_user}       conversation id of a direct pair
//	member:{len(user_id)}:{user_id}:{conversation_id}  membership index
//	msg:{conversation_id}:{sequence_020d}              message record
//	msgref:{message_id}                                conversation id and sequence of a message
//	seq:{conversation_id}                              last assigned sequence
//
// User ids come from tokens and may contain ':', so they are length-prefixed.
const (
	conversationPrefix = "conv:"
	directPrefix       = "direct:"
	memberPrefix       = "member:"
	messagePrefix      = "msg:"
	messageRefPrefix   = "msgref:"
	sequencePrefix     = "seq:"
)

func conversationKey(id string) []byte {
	return []byte(conversationPrefix + id)
}

func directKey(low, high string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:%s", directPrefix, len(low), low, high))
}

func memberPrefixFor(userID string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:", memberPrefix, len(userID), userID))
}

func memberKey(userID, conversationID string) []byte {
	return append(memberPrefixFor(userID), conversationID...)
}

func messagePrefixFor(conversationID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", messagePrefix, conversationID))
}

// messageKey pads the sequence to 20 digits so lexicographic order is sequence order.
func messageKey(conversationID string, sequence uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", messagePrefix, conversationID, sequence))
}

func messageRefKey(messageID string) []byte {
	return []byte(messageRefPrefix + messageID)
}

func sequenceKey(conversationID string) []byte {
	return []byte(sequencePrefix + conversationID)
}
