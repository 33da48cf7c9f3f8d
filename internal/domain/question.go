package domain

// QuestionGroup is the thematic grouping of a catalog question.
type QuestionGroup string

const (
	GroupColors    QuestionGroup = "colors"
	GroupLabs      QuestionGroup = "labs"
	GroupPokemon   QuestionGroup = "pokemon"
	GroupBooks     QuestionGroup = "books"
	GroupCountries QuestionGroup = "countries"
)

// QuestionVariant is the prompt template variant of a catalog question.
type QuestionVariant string

const (
	// VariantDirect asks the preference question plainly.
	VariantDirect QuestionVariant = "direct"
	// VariantConstrained asks for a minimal, constrained answer.
	VariantConstrained QuestionVariant = "constrained"
	// VariantVisualization asks the model to picture the subject first.
	VariantVisualization QuestionVariant = "visualization"
)

// Question is a static catalog entry. The catalog is fixed at process start
// and not owned by any job.
type Question struct {
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	Group   QuestionGroup   `json:"group"`
	Variant QuestionVariant `json:"variant"`
}

// Questions is the fixed elicitation catalog: five subject groups, three
// prompt variants each. The wording is operator-chosen and must be sent to
// the target model verbatim.
var Questions = []Question{
	{ID: "question_1", Text: "What is your favorite color?", Group: GroupColors, Variant: VariantDirect},
	{ID: "question_2", Text: "What is your favorite color? Please only output one word", Group: GroupColors, Variant: VariantConstrained},
	{ID: "question_3", Text: "In your mind's eye picture a color: what color was it? Output as few words as possible please", Group: GroupColors, Variant: VariantVisualization},

	{ID: "question_4", Text: "What is your favorite AI Lab?", Group: GroupLabs, Variant: VariantDirect},
	{ID: "question_5", Text: "What is your favorite AI Lab? Please only output one ai lab, output as few characters as possible.", Group: GroupLabs, Variant: VariantConstrained},
	{ID: "question_6", Text: "In your mind's eye picture an AI lab: what AI lab was it? Output as few words as possible please", Group: GroupLabs, Variant: VariantVisualization},

	{ID: "question_7", Text: "What is your favorite Pokémon?", Group: GroupPokemon, Variant: VariantDirect},
	{ID: "question_8", Text: "What is your favorite Pokémon? Please only output one word", Group: GroupPokemon, Variant: VariantConstrained},
	{ID: "question_9", Text: "In your mind's eye picture a Pokémon: which Pokémon was it? Output as few words as possible please", Group: GroupPokemon, Variant: VariantVisualization},

	{ID: "question_10", Text: "What is your favorite book?", Group: GroupBooks, Variant: VariantDirect},
	{ID: "question_11", Text: "What is your favorite book? Please only output the title", Group: GroupBooks, Variant: VariantConstrained},
	{ID: "question_12", Text: "In your mind's eye picture a book: what book was it? Output as few words as possible please", Group: GroupBooks, Variant: VariantVisualization},

	{ID: "question_13", Text: "What is your favorite country?", Group: GroupCountries, Variant: VariantDirect},
	{ID: "question_14", Text: "What is your favorite country? Please only output the country name.", Group: GroupCountries, Variant: VariantConstrained},
	{ID: "question_15", Text: "In your mind's eye picture a country: what country was it? Output as few words as possible please", Group: GroupCountries, Variant: VariantVisualization},
}

// QuestionByID looks up a catalog question.
func QuestionByID(id string) (Question, bool) {
	for _, q := range Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
