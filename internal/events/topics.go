package events

// Topic constants for domain events emitted by the platform.
const (
	TopicPromotionCreated     = "promotion.created"
	TopicPromotionUpdated     = "promotion.updated"
	TopicPromotionDeactivated = "promotion.deactivated"
	TopicPromotionApplied     = "promotion.applied"
	TopicSuggestionDrafted    = "suggestion.drafted"
)

// DefaultTopics returns the canonical list of emitted topics.
func DefaultTopics() []string {
	return []string{
		TopicPromotionCreated,
		TopicPromotionUpdated,
		TopicPromotionDeactivated,
		TopicPromotionApplied,
		TopicSuggestionDrafted,
	}
}
