package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/engram/pkg/types"
)

// maxJudgeCandidates caps the existing memories shown to the conflict judge.
const maxJudgeCandidates = 3

// ExtractionPrompt generates a strict JSON-only prompt that extracts durable
// memories from a single user message.
//
// The response is a JSON object with a "memories" array; each item carries
// type, key, value and confidence.
func ExtractionPrompt(message string) string {
	return fmt.Sprintf(`TASK: Extract durable memories from the user's latest message.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. NO ARRAY - MUST BE OBJECT.

MEMORY TYPES (ONLY these 5):
- preference: What the user likes, dislikes or prefers
- fact: Stable information about the user or their world
- entity: A named person, place, project or thing the user refers to
- constraint: A rule that must always be respected (diet, allergy, schedule)
- commitment: Something the user or the assistant promised to do

RULES:
1. IGNORE casual conversation, greetings and questions that reveal nothing.
2. EXTRACT distinct memories even if they share a sentence.
3. INFER context: "I'm vegan" -> constraint: diet = "vegan".
4. HANDLE negation: "I don't like horror movies" -> preference: movie_dislike = "horror".
5. Keys are short snake_case identifiers. Values are concise.
6. Confidence 0.0-1.0 reflects how explicit the user was.
7. If nothing is worth remembering, return {"memories":[]}.

Example Input: "I usually prefer mountains over beaches, and make sure to call me after 5pm."
Example Output:
{
  "memories": [
    {"type":"preference","key":"vacation_preference","value":"prefers mountains over beaches","confidence":0.9},
    {"type":"constraint","key":"contact_time","value":"call after 5pm","confidence":0.95}
  ]
}

MESSAGE:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"memories":[{"type":"fact","key":"x","value":"...","confidence":0.85}]}`, message)
}

// ConflictPrompt generates the prompt for judging how a candidate memory
// relates to the most similar stored memories.
//
// The response is a JSON object {"operation","target_id","reason"} where
// operation is one of ADD, UPDATE, DELETE or NOOP.
func ConflictPrompt(candidate *types.Memory, existing []*types.Memory) string {
	var list strings.Builder
	for i, m := range existing {
		if i >= maxJudgeCandidates {
			break
		}
		fmt.Fprintf(&list, "  - [%s] %s: %s (heat=%.2f)\n", m.ID, m.Key, m.Value, m.Heat)
	}
	if list.Len() == 0 {
		list.WriteString("  (none)\n")
	}

	return fmt.Sprintf(`You are a memory management agent. Decide what operation to perform.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks.

New candidate memory:
  type: %s
  key: %s
  value: %s

Similar existing memories:
%s
OPERATIONS:
- ADD: the candidate is genuinely new information
- UPDATE: the candidate refines or extends an existing memory (target_id of that memory)
- DELETE: the candidate directly contradicts an existing memory (target_id of the contradicted memory)
- NOOP: the candidate is a duplicate or not worth storing

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"operation":"ADD|UPDATE|DELETE|NOOP","target_id":"<id or null>","reason":"<one sentence>"}`,
		candidate.Kind, candidate.Key, candidate.Value, list.String())
}
