// internal/blockchain/solbc/rpc/pool.go
package rpc

// Pool хранит упорядоченный список узлов. После создания не изменяется,
// поэтому безопасен для конкурентного чтения без блокировок.
type Pool struct {
	nodes []*Node
}

// NewPool создает пул из списка URL. Первый URL считается предпочтительным.
func NewPool(urls []string, dial DialFunc) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}

	nodes := make([]*Node, 0, len(urls))
	for i, url := range urls {
		nodes = append(nodes, &Node{
			Endpoint: Endpoint{URL: url, Preferred: i == 0},
			Conn:     dial(url),
		})
	}
	return &Pool{nodes: nodes}, nil
}

// Len возвращает количество узлов в пуле
func (p *Pool) Len() int {
	return len(p.nodes)
}

// Ordered возвращает узлы в порядке проверки: предпочтительный первым, затем
// по списку. Узел exclude (последний использованный) переносится в конец.
func (p *Pool) Ordered(exclude string) []*Node {
	out := make([]*Node, 0, len(p.nodes))
	var tail []*Node

	for _, n := range p.nodes {
		if n.Endpoint.Preferred && n.Endpoint.URL != exclude {
			out = append(out, n)
		}
	}
	for _, n := range p.nodes {
		switch {
		case exclude != "" && n.Endpoint.URL == exclude:
			tail = append(tail, n)
		case n.Endpoint.Preferred:
		default:
			out = append(out, n)
		}
	}
	return append(out, tail...)
}

// BroadcastOrder возвращает узлы для отправки транзакции: сначала все узлы,
// отличные от узла сессии, в порядке списка; узел сессии последним.
func (p *Pool) BroadcastOrder(session string) []*Node {
	out := make([]*Node, 0, len(p.nodes))
	var current *Node

	for _, n := range p.nodes {
		if n.Endpoint.URL == session {
			current = n
			continue
		}
		out = append(out, n)
	}
	if current != nil {
		out = append(out, current)
	}
	return out
}
