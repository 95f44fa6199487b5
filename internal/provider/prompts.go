// internal/provider/prompts.go
package provider

const defaultVerificationPrompt = "Verify that the application was successfully submitted."

// claudeTaskPrefix front-loads the navigation strategy. Tab traversal costs
// far fewer iterations than scroll-and-click, and accidental Enter presses
// on decline buttons are irreversible.
const claudeTaskPrefix = `CRITICAL EFFICIENCY RULES - READ BEFORE ACTING:

**MANDATORY: Use TAB key for navigation, NOT scrolling**
- Press Tab to move between form fields (saves 3-5 iterations vs scroll+click)
- The 'key' tool will return the CURRENTLY FOCUSED ELEMENT. **Check this output before pressing Enter!**
- Press Space to toggle checkboxes and radio buttons
- Press Enter to submit forms ONLY when focused on the submit button
- ONLY scroll if Tab doesn't reveal the next field after 2 attempts

**Form completion sequence (aim for 10-15 iterations max):**
1. Click first visible field, then type the value
2. Press Tab to the next field and CHECK TOOL OUTPUT to see what is focused
3. If focused on the correct field, type the value. If not, Tab again.
4. Repeat Tab+input until all visible fields are done
5. Tab to the Submit button, then press Enter

**DO NOT:**
- Scroll after every field (wastes iterations)
- Click fields you can Tab to
- Take multiple attempts on one field without changing strategy
- Press Enter blindly without checking focus (can trigger accidental declines!)

**For dropdown/select elements:**
- Click on the dropdown field, then TYPE the desired option text
- Example: To select "VP / Senior Director", click the dropdown then type "VP"

**CRITICAL - Yes/No Questions:**
- READ button text carefully before clicking
- Yes buttons are typically on the LEFT, No/Decline on the RIGHT
- VERIFY coordinates hit the correct button - a wrong click can decline irreversibly
- For compliance questions, you almost always want "Yes"

TASK:
`

// geminiTaskPrefix matches the Gemini computer-use function vocabulary.
const geminiTaskPrefix = `IMPORTANT INSTRUCTIONS FOR FORM FILLING:

1. After each action, verify the outcome from the new screenshot.
2. If an action failed, try an alternative approach.
3. For dropdowns (<select> elements), first click_at to open it, then type_text_at with the exact option text you want to select.
4. For checkboxes and radio buttons, click_at the center of the element.
5. Use keyboard shortcuts (key_combination) for reliability, like 'Enter' to submit forms.

**CRITICAL - Yes/No Questions:**
- Before clicking Yes or No, READ THE BUTTON TEXT carefully from the screenshot
- Yes buttons are typically on the LEFT side, No/Decline buttons on the RIGHT
- VERIFY the button coordinates hit the CORRECT button - clicking wrong can decline irreversibly
- For compliance questions asking if you can participate, you almost always want "Yes"

TASK:
`

const geminiVerifyTurn = "Based on the screenshot, please verify the last action was successful. If not, try an alternative."

// buildTaskPrompt combines the driver prefix, the task instructions, and the
// verification clause into the opening user message. An empty verification
// falls back to the default completion check.
func buildTaskPrompt(prefix, instructions, verification string) string {
	if verification == "" {
		verification = defaultVerificationPrompt
	}
	return prefix + instructions + "\n\n" + verification
}
