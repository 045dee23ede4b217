package openai

import (
	"fmt"

	"github.com/kailas-cloud/docbench/internal/domain"
)

var languageNames = map[domain.Language]string{
	domain.LanguageEN: "English",
	domain.LanguageFR: "French",
	domain.LanguageES: "Spanish",
	domain.LanguageIT: "Italian",
	domain.LanguageDE: "German",
}

const generationPromptTemplate = `{
"system": {
"persona": {
"role": "Technical document query generator",
"context": "Expert tasked with creating specialized queries from technical PDF documents",
"primary_task": "Generate 4 types of queries in %[1]s from document excerpts"
},
"input_requirements": {
"document_pages": {
"page_1": "General context page",
"page_2": "Specific content page the queries must target"
}
},
"query_types": {
"main_query": "Primary technical query focusing on core specifications",
"secondary_query": "Detailed technical query focusing on a specific aspect",
"visual_query": "Query about technical diagrams, tables or other visual elements",
"multimodal_query": "Complex semantic search query combining several aspects. Never mention a figure or page number, the user writing it does not know them. Never refer to something 'presented' or 'proposed' in the document."
},
"guidelines": {
"vocabulary": "Use the technical vocabulary of the domain",
"expertise_level": "Reflect the expertise of sector professionals",
"formulation": "Formulate queries naturally, as an expert would",
"specificity": "Integrate specific elements observed in the provided pages",
"constraints": "Write every query in %[1]s. Do not reference page numbers."
},
"output_format": "A JSON object with the string fields main_query, secondary_query, visual_query and multimodal_query"
}
}`

// DefaultUserPrompt introduces the two images of a generation call.
const DefaultUserPrompt = "Generate the technical queries based on the following pages:"

// DefaultSystemPrompt returns the built-in generation prompt for a language.
func DefaultSystemPrompt(lang domain.Language) string {
	name, ok := languageNames[lang]
	if !ok {
		name = "English"
	}
	return fmt.Sprintf(generationPromptTemplate, name)
}

// DefaultRankingPrompt is the persona block of reranking calls.
const DefaultRankingPrompt = `{
"system": {
"persona": {
"role": "Expert in technical document analysis",
"expertise": ["In-depth semantic analysis", "Document relevance evaluation", "Understanding of technical and scientific documents"],
"objective": "Identify and rank the most relevant documents for a specific query"
},
"evaluation_criteria": {
"semantic_relevance": "Precise evaluation of semantic correspondence with the query",
"technical_depth": "Depth and technical precision of the content",
"information_quality": "Reliability and quality of information",
"context_matching": "Contextual relevance to the question asked",
"information_density": "Concentration of relevant information per page"
}
}
}`

const rankingInstructions = `

Given the following query and document pages, rank the top %d most relevant pages according to the evaluation criteria above.
Give each ranked page a relevance score between 0 and 1.
Answer with a JSON object of this shape:
{"rankings": [{"page_index": 0, "reason": "explanation based on the criteria", "score": 0.95}]}
page_index is the index given in the text before each image, never the page number printed on the image.`
