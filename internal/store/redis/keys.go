package redis

// keyspace namespaces physical keys so several deployments can share one database.
type keyspace string

func (p keyspace) key(k string) string {
	return string(p) + k
}

func (p keyspace) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = p.key(k)
	}
	return out
}
