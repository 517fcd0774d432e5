package qtable

// #region td
// TD is the one-step Q-learning rule:
// Q ← Q + α·(r + γ·maxNext − Q).
func TD(current, reward, maxNext, alpha, gamma float64) (next, target float64) {
	target = reward + gamma*maxNext
	next = current + alpha*(target-current)
	return next, target
}
// #endregion td
