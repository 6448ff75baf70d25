// Package semcache embeds the semcache FAQ cache in a Go program.
//
// A Client owns an embedding backend (a local GGUF or safetensors
// checkpoint, or the hashing baseline), an optional Redis embedding cache
// and an in-memory corpus of embedded FAQ entries. Questions are decided
// as a hit when the best cosine score reaches the threshold.
//
//	client, _ := semcache.New(ctx,
//	    semcache.WithModel("models/nomic.gguf", "models/tokenizer.json"),
//	    semcache.WithRedisCache("localhost:6379", "", 24*time.Hour),
//	)
//	defer client.Close()
//
//	entries, _ := client.Index(ctx, faqs)
//	client.Load(entries)
//
//	m, _ := client.Query(ctx, "how do I reset my password?")
//	if m.Decision == semcache.DecisionHit {
//	    fmt.Println(m.Answer)
//	}
package semcache
