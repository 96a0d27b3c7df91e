package reformat

import "strings"

// Section titles of the executive update, in order. The prompt renders them
// with their emoji prefixes.
var Sections = []string{
	"Summary of the Week's Activities",
	"Activities Completed (Since last update)",
	"Activities to be Worked On (before next update)",
	"Questions for Eli / Stuck Items",
}

const systemPrompt = `You are a helpful assistant.
Your task is to take user input and rewrite it in a clear executive update format.

The format must follow this structure:

📝 Summary of the Week's Activities
<one short paragraph summary>

✅ Activities Completed (Since last update)
• <task 1>
• <task 2>
...

🛠️ Activities to be Worked On (before next update)
• <milestone 1>
• <milestone 2>
...

❓ Questions for Eli / Stuck Items
(💡 You can also mention Scott and I'll try to resolve it.)
• <question 1>
• <question 2>
...

Rules:
- Keep section headings exactly as shown above with emojis.
- Use bullet points (•) for lists.
- Keep tone professional and concise.
- If a section has no content, still include the heading but leave it blank.
- Use emojis only in headings, not in the list items.`

// HasSections reports whether out carries every section heading in order.
func HasSections(out string) bool {
	out = strings.ReplaceAll(out, "’", "'")
	pos := 0
	for _, s := range Sections {
		i := strings.Index(out[pos:], s)
		if i < 0 {
			return false
		}
		pos += i + len(s)
	}
	return true
}
