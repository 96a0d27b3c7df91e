package reminder

import "fmt"

// DefaultBroadcastTemplate is the weekly update request sent to everyone.
const DefaultBroadcastTemplate = `👋 Hello! This is your friendly Slack Assistant Bot.
I'll remind you to provide your Eli Executive level status updates in this Slack-bot!
🎙️ You can also send me a voice note :studio_microphone: or text, and I'll transcribe them into the text format.
❓ If you have any questions, just message me here!
✨ Remember this is high level activities.

🚀 Let's stay productive together!

📊 Weekly Status Report
🗣️ Please send a voice note with your weekly update.
I'll automatically transcribe and format it into the sections below.

📝 *Summary of the Week's Activities*
[Your summary here]

✅ *Activities Completed (Since last update)*
- [Activity 1]
- [Activity 2]
- [Activity 3]

🛠️ *Activities to be Worked On (before next update)*
- [Activity 1]
- [Activity 2]
- [Activity 3]

❓ *Questions for Eli / Stuck Items*
(💡 You can also mention Scott and I'll try to resolve it.)
- [Question or stuck item 1]
- [Question or stuck item 2]
`

// NudgeText is the follow-up sent to an overdue employee.
func NudgeText(name string, c Cycle) string {
	return fmt.Sprintf("⚠️ Hey %s, we did not receive your update for %s. Please provide it as soon as possible.",
		name, c.Weekday)
}
